/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package executor

import (
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/named-data/cosync/core"
)

// Profiler writes the CPU, memory and block profiles requested on the command line.
type Profiler struct {
	config  *CoSyncDConfig
	cpuFile *os.File
	block   *pprof.Profile
}

func NewProfiler(config *CoSyncDConfig) *Profiler {
	return &Profiler{config: config}
}

func (p *Profiler) Start() (err error) {
	if p.config.CpuProfile != "" {
		p.cpuFile, err = os.Create(p.config.CpuProfile)
		if err != nil {
			core.LogError("Main", "Unable to open output file for CPU profile: ", err)
			return err
		}

		core.LogInfo("Main", "Profiling CPU - outputting to ", p.config.CpuProfile)
		pprof.StartCPUProfile(p.cpuFile)
	}

	if p.config.BlockProfile != "" {
		core.LogInfo("Main", "Profiling blocking operations - outputting to ", p.config.BlockProfile)
		runtime.SetBlockProfileRate(1)
		p.block = pprof.Lookup("block")
	}

	return
}

func (p *Profiler) Stop() {
	if p.block != nil {
		blockProfileFile, err := os.Create(p.config.BlockProfile)
		if err != nil {
			core.LogError("Main", "Unable to open output file for block profile: ", err)
		} else {
			if err := p.block.WriteTo(blockProfileFile, 0); err != nil {
				core.LogError("Main", "Unable to write block profile: ", err)
			}
			blockProfileFile.Close()
		}
		runtime.SetBlockProfileRate(0)
		p.block = nil
	}

	if p.config.MemProfile != "" {
		memProfileFile, err := os.Create(p.config.MemProfile)
		if err != nil {
			core.LogError("Main", "Unable to open output file for memory profile: ", err)
		} else {
			defer memProfileFile.Close()

			core.LogInfo("Main", "Profiling memory - outputting to ", p.config.MemProfile)
			runtime.GC()
			if err := pprof.WriteHeapProfile(memProfileFile); err != nil {
				core.LogError("Main", "Unable to write memory profile: ", err)
			}
		}
	}

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
	}
}
