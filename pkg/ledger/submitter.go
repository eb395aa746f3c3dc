package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Fee parameters attached ahead of every submitted transaction.
const (
	ComputeUnitLimit      uint32 = 200_000
	ComputeUnitPriceMicro uint64 = 100_000
)

// maxSendRetries bounds the RPC node's own resend attempts.
const maxSendRetries uint = 3

// SubmissionError wraps a ledger call that exhausted its retries or whose
// transaction landed with a program error. Callers abort the whole
// operation on it; no partial state may be persisted.
type SubmissionError struct {
	Signature solana.Signature
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("ledger: submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Client is the narrow RPC surface the submitter needs. *rpc.Client
// satisfies it.
type Client interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Submitter signs and submits transactions under the service identity and
// waits for confirmed commitment.
//
// No application-level idempotency key is sent: a transaction that lands
// but whose confirmation round-trip times out can be resubmitted by the
// caller's retry. That risk is accepted; the derived-address layout of the
// program makes a duplicate landing fail on-chain rather than corrupt
// state.
type Submitter struct {
	client   Client
	identity solana.PrivateKey
	log      *slog.Logger
	tracer   trace.Tracer

	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithConfirmTimeout bounds the confirmation wait.
func WithConfirmTimeout(d time.Duration) SubmitterOption {
	return func(s *Submitter) { s.confirmTimeout = d }
}

// WithPollInterval sets the confirmation polling cadence.
func WithPollInterval(d time.Duration) SubmitterOption {
	return func(s *Submitter) { s.pollInterval = d }
}

// NewSubmitter creates a Submitter. identity is the service wallet keypair
// that pays fees and co-signs every transaction.
func NewSubmitter(client Client, identity solana.PrivateKey, log *slog.Logger, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		client:         client,
		identity:       identity,
		log:            log,
		tracer:         otel.Tracer("ledger"),
		confirmTimeout: 60 * time.Second,
		pollInterval:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the public key of the service identity.
func (s *Submitter) Identity() solana.PublicKey {
	return s.identity.PublicKey()
}

// Submit prepends the fixed compute-budget and priority-fee instructions,
// signs with the service identity plus the provided signers, submits at
// confirmed commitment with bounded retries, and waits for confirmation.
func (s *Submitter) Submit(ctx context.Context, instrs []solana.Instruction, signers []solana.PrivateKey) (solana.Signature, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Submit")
	defer span.End()

	budget := []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(ComputeUnitPriceMicro).Build(),
	}
	all := append(budget, instrs...)

	recent, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, &SubmissionError{Err: fmt.Errorf("latest blockhash: %w", err)}
	}

	tx, err := solana.NewTransaction(all, recent.Value.Blockhash, solana.TransactionPayer(s.identity.PublicKey()))
	if err != nil {
		return solana.Signature{}, &SubmissionError{Err: fmt.Errorf("build transaction: %w", err)}
	}

	keyring := map[solana.PublicKey]solana.PrivateKey{
		s.identity.PublicKey(): s.identity,
	}
	for _, signer := range signers {
		keyring[signer.PublicKey()] = signer
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if pk, ok := keyring[key]; ok {
			return &pk
		}
		return nil
	}); err != nil {
		return solana.Signature{}, &SubmissionError{Err: fmt.Errorf("sign transaction: %w", err)}
	}

	retries := maxSendRetries
	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
		MaxRetries:          &retries,
	})
	if err != nil {
		if pe, ok := programErrorFromError(err); ok {
			return solana.Signature{}, &SubmissionError{Err: pe}
		}
		return solana.Signature{}, &SubmissionError{Err: fmt.Errorf("send transaction: %w", err)}
	}
	span.SetAttributes(attribute.String("signature", sig.String()))

	if err := s.awaitConfirmed(ctx, sig); err != nil {
		return sig, err
	}

	s.log.Info("transaction confirmed", "signature", sig.String())
	return sig, nil
}

// awaitConfirmed polls signature statuses until the transaction reaches
// confirmed (or finalized) commitment, errors, or the timeout elapses.
func (s *Submitter) awaitConfirmed(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		res, err := s.client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				if pe, ok := programErrorFromStatus(status.Err); ok {
					return &SubmissionError{Signature: sig, Err: pe}
				}
				return &SubmissionError{Signature: sig, Err: fmt.Errorf("transaction failed: %v", status.Err)}
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		} else if err != nil {
			s.log.Warn("signature status poll failed", "signature", sig.String(), "error", err)
		}

		select {
		case <-ctx.Done():
			return &SubmissionError{Signature: sig, Err: fmt.Errorf("confirmation: %w", ctx.Err())}
		case <-ticker.C:
		}
	}
}

// IsProgramError reports whether err carries a declared program error, and
// returns it if so.
func IsProgramError(err error) (*ProgramError, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
