package reconcile

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/fulfillment"
)

type Compensator interface {
	Compensate(ctx context.Context, orderID uuid.UUID) (fulfillment.CompensationResult, error)
}

type Resumer interface {
	Resume(ctx context.Context, orderID uuid.UUID) (fulfillment.Outcome, error)
}

type Options struct {
	Refunds bool
	Resume  bool
	DryRun  bool
}

type Summary struct {
	RefundCandidates int
	Refunded         int
	RefundFailures   int
	ResumeCandidates int
	Resumed          int
	ResumeFailures   int
}

type Runner struct {
	repo        Repository
	compensator Compensator
	resumer     Resumer
}

func NewRunner(repo Repository, compensator Compensator, resumer Resumer) *Runner {
	return &Runner{repo: repo, compensator: compensator, resumer: resumer}
}

// Run works through every candidate even when some fail; failures are
// logged and counted in the summary. Only listing errors abort the run.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	var s Summary

	if opts.Refunds {
		candidates, err := r.repo.UnrefundedStockFailures(ctx)
		if err != nil {
			return s, err
		}
		s.RefundCandidates = len(candidates)

		for _, c := range candidates {
			logger := log.With().Stringer("order_id", c.ID).Stringer("total", c.Total).Logger()
			if opts.DryRun {
				logger.Info().Msg("reconcile: would retry refund")
				continue
			}
			result, err := r.compensator.Compensate(ctx, c.ID)
			if err != nil {
				logger.Error().Err(err).Msg("reconcile: refund retry failed")
				s.RefundFailures++
				continue
			}
			switch result {
			case fulfillment.CompensationRefunded:
				s.Refunded++
			case fulfillment.CompensationNoInstrument, fulfillment.CompensationFailed:
				// the customer was charged and nothing was refunded
				logger.Error().Str("result", string(result)).Msg("reconcile: refund could not be issued")
				s.RefundFailures++
				continue
			}
			logger.Info().Str("result", string(result)).Msg("reconcile: refund retried")
		}
	}

	if opts.Resume {
		candidates, err := r.repo.StalledPayments(ctx)
		if err != nil {
			return s, err
		}
		s.ResumeCandidates = len(candidates)

		for _, c := range candidates {
			logger := log.With().Stringer("order_id", c.ID).Logger()
			if opts.DryRun {
				logger.Info().Msg("reconcile: would resume reservation")
				continue
			}
			outcome, err := r.resumer.Resume(ctx, c.ID)
			if err != nil {
				logger.Error().Err(err).Msg("reconcile: resume failed")
				s.ResumeFailures++
				continue
			}
			s.Resumed++
			logger.Info().Str("outcome", string(outcome)).Msg("reconcile: reservation resumed")
		}
	}

	log.Info().
		Int("refund_candidates", s.RefundCandidates).
		Int("refunded", s.Refunded).
		Int("refund_failures", s.RefundFailures).
		Int("resume_candidates", s.ResumeCandidates).
		Int("resumed", s.Resumed).
		Int("resume_failures", s.ResumeFailures).
		Bool("dry_run", opts.DryRun).
		Msg("reconcile: run finished")

	return s, nil
}
