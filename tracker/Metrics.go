// Package tracker implements tracking and saving of learning metrics
package tracker

import (
	"encoding/gob"
	"log"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Tracker tracks the metric mappings produced by learning calls so
// that learning progress can be saved and inspected after a run
type Tracker interface {
	// Track caches the metrics produced by one learning call
	Track(metrics map[string]float64)

	// Save saves the data cached by the Tracker to disk
	Save()
}

// Metrics tracks every metric series emitted across learning calls.
// Metric keys follow the "<agentId>/<metricName>" form produced by a
// dispatching policy manager, so the series of a single agent's
// metric can be recovered by its key.
type Metrics struct {
	series   map[string][]float64
	filename string
}

// NewMetrics creates and returns a new *Metrics Tracker which saves
// its data to the argument file
func NewMetrics(filename string) *Metrics {
	return &Metrics{
		series:   make(map[string][]float64),
		filename: filename,
	}
}

// Track caches the metrics produced by one learning call, appending
// each value to its key's series. Learning calls that emitted no
// value for a key leave that key's series untouched, so series of
// different keys may have different lengths.
func (m *Metrics) Track(metrics map[string]float64) {
	for key, value := range metrics {
		m.series[key] = append(m.series[key], value)
	}
}

// Series returns the tracked series for a metric key, or nil if the
// key was never emitted
func (m *Metrics) Series(key string) []float64 {
	return m.series[key]
}

// Keys returns the tracked metric keys in lexicographic order
func (m *Metrics) Keys() []string {
	keys := make([]string, 0, len(m.series))
	for key := range m.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Mean returns the mean of the tracked series for a metric key. The
// mean of a key that was never emitted is NaN.
func (m *Metrics) Mean(key string) float64 {
	return stat.Mean(m.series[key], nil)
}

// Save saves the data tracked by the Metrics Tracker to disk
func (m *Metrics) Save() {
	// Open the file to save to
	file, err := os.Create(m.filename)
	if err != nil {
		log.Fatalf("could not open save file: %v", err)
	}
	defer file.Close()

	// Encode and save the file
	en := gob.NewEncoder(file)
	if err = en.Encode(m.series); err != nil {
		log.Fatalf("could not encode metric data: %v", err)
	}
}

// LoadData loads the metric series saved by a Metrics Tracker
func LoadData(filename string) map[string][]float64 {
	file, err := os.Open(filename)
	if err != nil {
		log.Fatalf("could not open data file: %v", err)
	}
	defer file.Close()

	var series map[string][]float64
	de := gob.NewDecoder(file)
	if err = de.Decode(&series); err != nil {
		log.Fatalf("could not decode metric data: %v", err)
	}
	return series
}
