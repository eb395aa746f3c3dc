package ledger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type fakeClient struct {
	sendErr    error
	statusErr  interface{}
	status     rpc.ConfirmationStatusType
	sentTxs    []*solana.Transaction
	statusCall int
}

func (f *fakeClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash: solana.Hash{1, 2, 3},
		},
	}, nil
}

func (f *fakeClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sentTxs = append(f.sentTxs, tx)
	return solana.Signature{9, 9, 9}, nil
}

func (f *fakeClient) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.statusCall++
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{
			{
				ConfirmationStatus: f.status,
				Err:                f.statusErr,
			},
		},
	}, nil
}

func testSubmitter(t *testing.T, client Client) *Submitter {
	t.Helper()
	identity, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey: %v", err)
	}
	return NewSubmitter(client, identity, slog.Default(),
		WithConfirmTimeout(2*time.Second),
		WithPollInterval(10*time.Millisecond),
	)
}

func noopTransfer(t *testing.T, from solana.PublicKey) solana.Instruction {
	t.Helper()
	return solana.NewInstruction(
		solana.SystemProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(from, true, true)},
		[]byte{0},
	)
}

func TestSubmit_PrependsBudgetInstructions(t *testing.T) {
	client := &fakeClient{status: rpc.ConfirmationStatusConfirmed}
	s := testSubmitter(t, client)

	_, err := s.Submit(context.Background(), []solana.Instruction{noopTransfer(t, s.Identity())}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(client.sentTxs) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(client.sentTxs))
	}
	msg := client.sentTxs[0].Message
	if len(msg.Instructions) != 3 {
		t.Fatalf("instruction count = %d, want 3 (budget, fee, payload)", len(msg.Instructions))
	}
	// The first two compiled instructions must target the compute budget
	// program.
	budgetProgram := solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	for i := 0; i < 2; i++ {
		prog, err := msg.Program(msg.Instructions[i].ProgramIDIndex)
		if err != nil {
			t.Fatalf("resolve program %d: %v", i, err)
		}
		if prog != budgetProgram {
			t.Errorf("instruction %d program = %s, want compute budget", i, prog)
		}
	}
}

func TestSubmit_SignsWithIdentityAndSigners(t *testing.T) {
	client := &fakeClient{status: rpc.ConfirmationStatusConfirmed}
	s := testSubmitter(t, client)

	extra, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey: %v", err)
	}

	ix := solana.NewInstruction(
		solana.SystemProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(s.Identity(), true, true),
			solana.NewAccountMeta(extra.PublicKey(), true, true),
		},
		[]byte{0},
	)

	if _, err := s.Submit(context.Background(), []solana.Instruction{ix}, []solana.PrivateKey{extra}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	tx := client.sentTxs[0]
	if err := tx.VerifySignatures(); err != nil {
		t.Errorf("transaction signatures invalid: %v", err)
	}
	if len(tx.Signatures) != 2 {
		t.Errorf("signature count = %d, want 2", len(tx.Signatures))
	}
}

func TestSubmit_MissingSignerFails(t *testing.T) {
	client := &fakeClient{status: rpc.ConfirmationStatusConfirmed}
	s := testSubmitter(t, client)

	stranger, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey: %v", err)
	}
	ix := solana.NewInstruction(
		solana.SystemProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(stranger.PublicKey(), true, true)},
		[]byte{0},
	)

	// The stranger keypair is required but not provided.
	_, err = s.Submit(context.Background(), []solana.Instruction{ix}, nil)
	var se *SubmissionError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want SubmissionError", err)
	}
}

func TestSubmit_SendErrorSurfacesProgramError(t *testing.T) {
	client := &fakeClient{
		sendErr: errors.New(`Transaction simulation failed: Error processing Instruction 2: custom program error: 0x1771`),
	}
	s := testSubmitter(t, client)

	_, err := s.Submit(context.Background(), []solana.Instruction{noopTransfer(t, s.Identity())}, nil)

	pe, ok := IsProgramError(err)
	if !ok {
		t.Fatalf("error = %v, want wrapped ProgramError", err)
	}
	if pe.Code != CodeInvalidReportID || pe.Name != "InvalidReportId" {
		t.Errorf("program error = %s (%d), want InvalidReportId (6001)", pe.Name, pe.Code)
	}
}

func TestSubmit_FailedStatusSurfacesProgramError(t *testing.T) {
	client := &fakeClient{
		statusErr: map[string]interface{}{
			"InstructionError": []interface{}{2, map[string]interface{}{"Custom": 6000}},
		},
	}
	s := testSubmitter(t, client)

	_, err := s.Submit(context.Background(), []solana.Instruction{noopTransfer(t, s.Identity())}, nil)

	pe, ok := IsProgramError(err)
	if !ok {
		t.Fatalf("error = %v, want wrapped ProgramError", err)
	}
	if pe.Code != CodeUnauthorized {
		t.Errorf("program error code = %d, want 6000", pe.Code)
	}
}

func TestSubmit_ConfirmationTimeout(t *testing.T) {
	// Status never reaches confirmed.
	client := &fakeClient{status: rpc.ConfirmationStatusProcessed}
	identity, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey: %v", err)
	}
	s := NewSubmitter(client, identity, slog.Default(),
		WithConfirmTimeout(50*time.Millisecond),
		WithPollInterval(5*time.Millisecond),
	)

	_, err = s.Submit(context.Background(), []solana.Instruction{noopTransfer(t, s.Identity())}, nil)
	var se *SubmissionError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want SubmissionError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded cause", err)
	}
}

func TestProgramErrorTable(t *testing.T) {
	names := map[uint32]string{
		6000: "Unauthorized",
		6001: "InvalidReportId",
		6002: "NotShareNFT",
		6003: "ShareNFTNotFound",
		6004: "Overflow",
		6005: "OrgNameTooLong",
		6006: "ReportNameTooLong",
	}
	for code, want := range names {
		if got := newProgramError(code).Name; got != want {
			t.Errorf("code %d name = %q, want %q", code, got, want)
		}
	}
	if got := newProgramError(1).Name; got != "Custom" {
		t.Errorf("undeclared code name = %q, want Custom", got)
	}
}
