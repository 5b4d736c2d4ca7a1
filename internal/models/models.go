// Package models holds the values passed between the sampler, the threshold
// engine and the transport.
package models

import (
	"strconv"
	"time"
)

// Alert is the binary-threshold state of a machine.
type Alert int8

const (
	AlertLow    Alert = -1
	AlertNormal Alert = 0
	AlertHigh   Alert = 1
)

func (a Alert) String() string {
	switch a {
	case AlertHigh:
		return "HIGH"
	case AlertLow:
		return "LOW"
	case AlertNormal:
		return "NORMAL"
	default:
		return "Alert(" + strconv.Itoa(int(a)) + ")"
	}
}

// RawSample is a single converted acquisition.
type RawSample struct {
	Value      float64
	AcquiredAt time.Time
}

// AveragedSample is the mean of SampleCount raw samples for one machine.
type AveragedSample struct {
	EntityID    string
	Value       float64
	SampleCount int
	ProducedAt  time.Time
	Sensor      string
}

// Reading is what the threshold engine consumes, regardless of whether it was
// produced in-process or decoded off the transport.
type Reading struct {
	EntityID  string
	Value     float64
	Timestamp time.Time
	// Topic is the inbound topic; alerts are published beneath it.
	Topic string
}

// ReadingFromSample adapts an averaged sample for the engine.
func ReadingFromSample(s AveragedSample, topic string) Reading {
	return Reading{
		EntityID:  s.EntityID,
		Value:     s.Value,
		Timestamp: s.ProducedAt,
		Topic:     topic,
	}
}

// EntityState is the last decided alert of a machine and when it was last
// published. Known is false until the first reading has been evaluated.
type EntityState struct {
	EntityID        string    `json:"entity_id"`
	Alert           Alert     `json:"alert"`
	Known           bool      `json:"known"`
	LastPublishedAt time.Time `json:"last_published_at"`
}
