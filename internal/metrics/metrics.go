// Package metrics keeps process-lifetime counters for the watch session and
// renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type Registry struct {
	batches             atomic.Int64
	staleHandles        atomic.Int64
	commandsRun         atomic.Int64
	commandsFailed      atomic.Int64
	commandsSkipped     atomic.Int64
	registrationsFailed atomic.Int64
	handlesRemoved      atomic.Int64
	records             sync.Map
	busPublished        sync.Map
	busDropped          sync.Map

	gaugeMu sync.Mutex
	watched func() int
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) IncBatches() {
	if r == nil {
		return
	}
	r.batches.Add(1)
}

func (r *Registry) IncStaleHandles() {
	if r == nil {
		return
	}
	r.staleHandles.Add(1)
}

func (r *Registry) IncCommandsRun() {
	if r == nil {
		return
	}
	r.commandsRun.Add(1)
}

func (r *Registry) IncCommandsFailed() {
	if r == nil {
		return
	}
	r.commandsFailed.Add(1)
}

func (r *Registry) IncCommandsSkipped() {
	if r == nil {
		return
	}
	r.commandsSkipped.Add(1)
}

func (r *Registry) IncRegistrationsFailed() {
	if r == nil {
		return
	}
	r.registrationsFailed.Add(1)
}

func (r *Registry) IncHandlesRemoved() {
	if r == nil {
		return
	}
	r.handlesRemoved.Add(1)
}

// IncRecord counts one change record of the given kind.
func (r *Registry) IncRecord(kind string) {
	if r == nil {
		return
	}
	counter(&r.records, labelOrUnknown(kind)).Add(1)
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	counter(&r.busPublished, busKey(bus, eventType)).Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	counter(&r.busDropped, busKey(bus, eventType)).Add(1)
}

// SetWatchedDirectories installs the gauge source for the number of watched
// directories. The function is called on every scrape.
func (r *Registry) SetWatchedDirectories(source func() int) {
	if r == nil {
		return
	}
	r.gaugeMu.Lock()
	r.watched = source
	r.gaugeMu.Unlock()
}

func (r *Registry) WatchedDirectories() int {
	if r == nil {
		return 0
	}
	r.gaugeMu.Lock()
	source := r.watched
	r.gaugeMu.Unlock()
	if source == nil {
		return 0
	}
	return source()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Batches             int64            `json:"batches"`
	StaleHandles        int64            `json:"stale_handles"`
	CommandsRun         int64            `json:"commands_run"`
	CommandsFailed      int64            `json:"commands_failed"`
	CommandsSkipped     int64            `json:"commands_skipped"`
	RegistrationsFailed int64            `json:"registrations_failed"`
	HandlesRemoved      int64            `json:"handles_removed"`
	Records             map[string]int64 `json:"records"`
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		Batches:             r.batches.Load(),
		StaleHandles:        r.staleHandles.Load(),
		CommandsRun:         r.commandsRun.Load(),
		CommandsFailed:      r.commandsFailed.Load(),
		CommandsSkipped:     r.commandsSkipped.Load(),
		RegistrationsFailed: r.registrationsFailed.Load(),
		HandlesRemoved:      r.handlesRemoved.Load(),
		Records:             collect(&r.records),
	}
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeGauge(writer, "treewatch_watched_directories", "Directories currently subscribed for change notifications", int64(r.WatchedDirectories()))
	writeCounter(writer, "treewatch_batches_total", "Notification batches dispatched", r.batches.Load())
	writeCounter(writer, "treewatch_stale_handles_total", "Batches skipped for unknown handles", r.staleHandles.Load())
	writeCounter(writer, "treewatch_commands_total", "Hook commands completed", r.commandsRun.Load())
	writeCounter(writer, "treewatch_command_failures_total", "Hook commands that could not be run", r.commandsFailed.Load())
	writeCounter(writer, "treewatch_commands_skipped_total", "Changes that did not match a command pattern", r.commandsSkipped.Load())
	writeCounter(writer, "treewatch_registration_failures_total", "Directory tree registrations that failed", r.registrationsFailed.Load())
	writeCounter(writer, "treewatch_handles_removed_total", "Watch handles dropped after failing to re-arm", r.handlesRemoved.Load())

	records := collect(&r.records)
	writeHelp(writer, "treewatch_records_total", "Change records by kind")
	fmt.Fprintln(writer, "# TYPE treewatch_records_total counter")
	for _, kind := range sortedKeys(records) {
		fmt.Fprintf(writer, "treewatch_records_total{kind=%s} %d\n", formatLabel(kind), records[kind])
	}

	published := collect(&r.busPublished)
	dropped := collect(&r.busDropped)
	writeHelp(writer, "treewatch_bus_events_published_total", "Events published on internal buses")
	fmt.Fprintln(writer, "# TYPE treewatch_bus_events_published_total counter")
	for _, key := range sortedKeys(published) {
		bus, eventType := splitBusKey(key)
		fmt.Fprintf(writer, "treewatch_bus_events_published_total{bus=%s,type=%s} %d\n", formatLabel(bus), formatLabel(eventType), published[key])
	}
	writeHelp(writer, "treewatch_bus_events_dropped_total", "Events dropped for slow subscribers")
	fmt.Fprintln(writer, "# TYPE treewatch_bus_events_dropped_total counter")
	for _, key := range sortedKeys(dropped) {
		bus, eventType := splitBusKey(key)
		fmt.Fprintf(writer, "treewatch_bus_events_dropped_total{bus=%s,type=%s} %d\n", formatLabel(bus), formatLabel(eventType), dropped[key])
	}

	return nil
}

func counter(values *sync.Map, key string) *atomic.Int64 {
	value, _ := values.LoadOrStore(key, &atomic.Int64{})
	return value.(*atomic.Int64)
}

func collect(values *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	values.Range(func(key, value interface{}) bool {
		name, ok := key.(string)
		if !ok {
			return true
		}
		out[name] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

func sortedKeys(values map[string]int64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func labelOrUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}

const busKeySeparator = "\x00"

func busKey(bus, eventType string) string {
	return labelOrUnknown(bus) + busKeySeparator + labelOrUnknown(eventType)
}

func splitBusKey(key string) (string, string) {
	bus, eventType, _ := strings.Cut(key, busKeySeparator)
	return bus, eventType
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
