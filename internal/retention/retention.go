// Package retention resolves the spec's open question on retention
// policy for delivered explanations and processed detections: rather
// than letting the file queues grow without bound, a scheduled sweep
// prunes terminal records past a configurable window.
package retention

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ctxlens/backend/internal/delivery"
	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/pkg/Logger"
)

// Sweeper prunes delivered explanation records and processed detection
// records once they are older than Window.
type Sweeper struct {
	log          *Logger.Logger
	detections   *filequeue.FileQueue[filequeue.DetectionRecord]
	explanations *filequeue.FileQueue[filequeue.ExplanationRecord]
	ledger       *delivery.Ledger // optional
	window       time.Duration

	cron *cron.Cron
}

// NewSweeper constructs a sweeper. schedule is a standard 5-field cron
// expression (e.g. "0 */6 * * *" for every six hours).
func NewSweeper(log *Logger.Logger, detections *filequeue.FileQueue[filequeue.DetectionRecord], explanations *filequeue.FileQueue[filequeue.ExplanationRecord], ledger *delivery.Ledger, window time.Duration, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		log:          log,
		detections:   detections,
		explanations: explanations,
		ledger:       ledger,
		window:       window,
		cron:         cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, s.sweepOnce); err != nil {
		return nil, fmt.Errorf("retention: schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() { s.cron.Start() }

func (s *Sweeper) Stop() { s.cron.Stop() }

func (s *Sweeper) sweepOnce() {
	cutoff := time.Now().Add(-s.window)
	cutoffUnix := float64(cutoff.UnixNano()) / 1e9

	prunedDetections, err := s.detections.Prune(func(r filequeue.DetectionRecord) bool {
		return r.Status != filequeue.DetectionProcessed || r.Timestamp >= cutoffUnix
	})
	if err != nil {
		s.log.Errorf("retention: prune detections: %v", err)
	}

	prunedExplanations, err := s.explanations.Prune(func(r filequeue.ExplanationRecord) bool {
		return r.Status != filequeue.ExplanationDelivered || r.Timestamp >= cutoffUnix
	})
	if err != nil {
		s.log.Errorf("retention: prune explanations: %v", err)
	}

	if s.ledger != nil {
		if n, err := s.ledger.PruneOlderThan(cutoff); err != nil {
			s.log.Errorf("retention: prune ledger: %v", err)
		} else if n > 0 {
			s.log.Infof("retention: pruned %d ledger rows", n)
		}
	}

	if prunedDetections > 0 || prunedExplanations > 0 {
		s.log.Infof("retention: pruned %d detections, %d explanations older than %s",
			prunedDetections, prunedExplanations, s.window)
	}
}
