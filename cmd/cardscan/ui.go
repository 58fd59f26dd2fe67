package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/BJohnRogers/FinalVision/internal/pipeline"
)

// consoleSink prints deliveries for a terminal user
type consoleSink struct {
	out     io.Writer
	noColor bool
}

func newConsoleSink(out io.Writer, noColor bool) *consoleSink {
	return &consoleSink{out: out, noColor: noColor}
}

// Deliver implements pipeline.Sink
func (s *consoleSink) Deliver(d pipeline.Delivery) {
	switch d.Outcome.Kind {
	case pipeline.OutcomeNavigate:
		name := ""
		if d.Outcome.Card != nil {
			name = d.Outcome.Card.Name
		}
		s.print(color.FgGreen, "✓ %s\n  %s\n", name, d.Outcome.URI)
	case pipeline.OutcomeNoTextFound:
		s.print(color.FgYellow, "⚠ No text found. Retake the photo.\n")
	case pipeline.OutcomeLookupFailed:
		s.print(color.FgRed, "✗ Lookup failed for %q: %s\n", d.Query, d.Outcome.Reason())
	default:
		s.print(color.FgRed, "✗ %s\n", d.Outcome.Reason())
	}
}

func (s *consoleSink) print(attr color.Attribute, format string, args ...interface{}) {
	if s.noColor {
		fmt.Fprintf(s.out, format, args...)
		return
	}
	color.New(attr).Fprintf(s.out, format, args...)
}
