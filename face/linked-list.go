/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package face

type listNode[T any] struct {
	value T
	next  *listNode[T]
}

// LinkedList is a singly linked FIFO with constant time Push and Shift.
type LinkedList[T any] struct {
	head   *listNode[T]
	tail   *listNode[T]
	length int
}

// Push appends v at the tail.
func (l *LinkedList[T]) Push(v T) {
	node := &listNode[T]{value: v}
	if l.length == 0 {
		if l.head != nil || l.tail != nil {
			panic("linked list is corrupted")
		}
		l.head = node
		l.tail = node
	} else {
		if l.tail == nil || l.tail.next != nil {
			panic("linked list is corrupted")
		}
		l.tail.next = node
		l.tail = node
	}
	l.length++
}

// Shift removes and returns the head.
func (l *LinkedList[T]) Shift() (T, bool) {
	var zero T
	if l.length == 0 {
		if l.head != nil {
			panic("linked list is corrupted")
		}
		return zero, false
	}
	node := l.head
	if node == nil {
		panic("linked list is corrupted")
	}
	l.head = node.next
	l.length--
	if l.length == 0 {
		if l.head != nil {
			panic("linked list is corrupted")
		}
		l.tail = nil
	}
	node.next = nil
	return node.value, true
}

// Peek returns the head without removing it.
func (l *LinkedList[T]) Peek() (T, bool) {
	if l.head == nil {
		var zero T
		return zero, false
	}
	return l.head.value, true
}

// Len returns the number of elements.
func (l *LinkedList[T]) Len() int {
	return l.length
}
