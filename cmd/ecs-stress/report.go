package main

import (
	"io"
	"runtime"
	"slices"
	"text/template"
	"time"

	"github.com/rotisserie/eris"

	"github.com/plus3/colony/ecs"
)

// Report collects everything printed after a stress run.
type Report struct {
	Duration   time.Duration
	Entities   int
	Components int
	Systems    int

	Frames     FrameTimes
	Elapsed    time.Duration
	Population FrameCounter
	ShowGC     bool
	MemBefore  runtime.MemStats
	MemAfter   runtime.MemStats
	World      ecs.WorldStats
	Scheduler  *ecs.SchedulerStats
}

// FrameTimes records how long each Progress call took.
type FrameTimes struct {
	samples []time.Duration

	Count          int
	Min, Max, Mean time.Duration
	P50, P99       time.Duration
}

func (f *FrameTimes) Record(d time.Duration) {
	f.samples = append(f.samples, d)
}

// Summarize fills the aggregate fields from the recorded samples.
func (f *FrameTimes) Summarize() {
	f.Count = len(f.samples)
	if f.Count == 0 {
		return
	}
	sorted := slices.Clone(f.samples)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	f.Min = sorted[0]
	f.Max = sorted[len(sorted)-1]
	f.Mean = total / time.Duration(len(sorted))
	f.P50 = percentile(sorted, 50)
	f.P99 = percentile(sorted, 99)
}

// percentile uses nearest rank on an ascending slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

const reportTemplate = `
# Colony Stress Report

## Setup
- **Duration:** {{.Duration}}
- **Target Population:** {{.Entities}}
- **Registered Components:** {{.Components}}
- **Registered Systems:** {{.Systems}}

## Frames
- **Frames Run:** {{.Frames.Count}} in {{.Elapsed}}
- **Mean:** {{.Frames.Mean}}
- **Min:** {{.Frames.Min}} / **Max:** {{.Frames.Max}}
- **p50:** {{.Frames.P50}} / **p99:** {{.Frames.P99}}

## Population
- **Spawned:** {{.Population.Spawned}}
- **Expired:** {{.Population.Destroyed}}
- **Live Entities:** {{.World.EntityCount}}
- **Tables:** {{.World.TableCount}} ({{.World.QueryCount}} compiled queries)
{{range .World.Tables}}{{if .EntityCount}}  - table {{.Id}} {{.Signature}}: {{.EntityCount}} rows (capacity {{.Capacity}})
{{end}}{{end}}
## Systems
{{range .Scheduler.Systems}}- **{{.Name}}** ({{.Phase}}, wave {{.Wave}}): {{.ExecutionCount}} runs, avg {{.AvgDuration}}, max {{.MaxDuration}}
{{end}}
## Memory
| | before | after | delta |
|---|---|---|---|
| heap | {{.MemBefore.HeapAlloc}} | {{.MemAfter.HeapAlloc}} | {{delta .MemAfter.HeapAlloc .MemBefore.HeapAlloc}} |
| total alloc | {{.MemBefore.TotalAlloc}} | {{.MemAfter.TotalAlloc}} | {{delta .MemAfter.TotalAlloc .MemBefore.TotalAlloc}} |
| sys | {{.MemBefore.Sys}} | {{.MemAfter.Sys}} | {{delta .MemAfter.Sys .MemBefore.Sys}} |
{{if .ShowGC}}
- **GC cycles:** {{gcRuns .MemAfter.NumGC .MemBefore.NumGC}}
- **GC pause total:** {{pause .MemAfter.PauseTotalNs .MemBefore.PauseTotalNs}}
{{end}}`

var reportFuncs = template.FuncMap{
	"delta": func(after, before uint64) int64 {
		return int64(after) - int64(before)
	},
	"gcRuns": func(after, before uint32) uint32 {
		return after - before
	},
	"pause": func(after, before uint64) time.Duration {
		return time.Duration(after - before)
	},
}

var reportTmpl = template.Must(template.New("report").Funcs(reportFuncs).Parse(reportTemplate))

func (r *Report) Generate(w io.Writer) error {
	if err := reportTmpl.Execute(w, r); err != nil {
		return eris.Wrap(err, "rendering report")
	}
	return nil
}
