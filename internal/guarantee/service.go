// internal/guarantee/service.go
package guarantee

import (
	"context"
	"time"

	"github.com/google/uuid"

	"guaranteedesk/internal/bank"
)

// BankDirectory resolves bank profiles. bank.Service and the HTTP bank client
// both satisfy it.
type BankDirectory interface {
	GetBank(ctx context.Context, id uuid.UUID) (*bank.Profile, error)
}

// Service defines the interface for the guarantee lifecycle engine.
type Service interface {
	Create(ctx context.Context, form CreateForm, actor string) (*Guarantee, error)
	Get(ctx context.Context, id uuid.UUID) (*Guarantee, error)
	Query(ctx context.Context, q Query) (*Result, error)
	History(ctx context.Context, id uuid.UUID) ([]JournalEntry, error)

	SubmitToBank(ctx context.Context, id uuid.UUID, bankReference, notes, actor string) (*Guarantee, error)
	RecordBankResponse(ctx context.Context, id uuid.UUID, approved bool, notes, referenceNumber, actor string) (*Guarantee, error)
	StartReview(ctx context.Context, id uuid.UUID, actor string) (*Guarantee, error)
	ReturnForCorrection(ctx context.Context, id uuid.UUID, reason, actor string) (*Guarantee, error)
	Reopen(ctx context.Context, id uuid.UUID, actor string) (*Guarantee, error)
	Issue(ctx context.Context, id uuid.UUID, issueDate time.Time, actor string) (*Guarantee, error)
	Activate(ctx context.Context, id uuid.UUID, effectiveDate time.Time, actor string) (*Guarantee, error)
	Renew(ctx context.Context, id uuid.UUID, newExpiry time.Time, actor string) (*Guarantee, error)
	Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*Guarantee, error)
	Expire(ctx context.Context, id uuid.UUID, actor string) (*Guarantee, error)
	Transition(ctx context.Context, id uuid.UUID, target Status, reason, actor string) (*Guarantee, error)

	AddDocument(ctx context.Context, id uuid.UUID, doc DocumentForm, actor string) (*Guarantee, error)
	ReviewDocument(ctx context.Context, id, documentID uuid.UUID, decision DocumentStatus, notes, actor string) (*Guarantee, error)
	AddNote(ctx context.Context, id uuid.UUID, content string, visibility NoteVisibility, private bool, actor string) (*Guarantee, error)
	RequestExtension(ctx context.Context, id uuid.UUID, newExpiry time.Time, reason, actor string) (*Guarantee, error)
	DecideExtension(ctx context.Context, id, extensionID uuid.UUID, approve bool, notes, actor string) (*Guarantee, error)
	Archive(ctx context.Context, id uuid.UUID, actor string) (*Guarantee, error)

	MarkAlertRead(ctx context.Context, id, alertID uuid.UUID, actor string) (*Guarantee, error)
	ResolveAlert(ctx context.Context, id, alertID uuid.UUID, actor string) (*Guarantee, error)
	RefreshAlerts(ctx context.Context) (int, error)
	SweepExpired(ctx context.Context) (int, error)

	Subscribe(l Listener) Subscription
	Unsubscribe(sub Subscription) bool
}
