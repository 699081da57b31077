// Package linkage associates connected wallet addresses with the signed-in
// user's profile document.
package linkage

import (
	"context"
	"time"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/identity"
	"github.com/R3E-Network/wallet_dashboard/internal/metrics"
	"github.com/R3E-Network/wallet_dashboard/internal/storage"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// SessionWallets is the in-memory side of the linked-wallet set.
// *identity.Store implements it.
type SessionWallets interface {
	MergeWalletAddresses(uid string, addresses []string) ([]string, bool)
}

// Diagnostic describes a document store failure that was recovered locally.
type Diagnostic struct {
	UID     string                      `json:"uid"`
	Address string                      `json:"address"`
	Op      string                      `json:"op"`
	Kind    svcerrors.DocumentStoreKind `json:"kind"`
	Message string                      `json:"message"`
	Err     error                       `json:"-"`
	At      time.Time                   `json:"at"`
}

// Error renders the diagnostic as the DOCUMENT_STORE_ERROR it stands for.
func (d *Diagnostic) Error() string {
	return svcerrors.DocumentStoreError(d.Kind, d.Err).Error()
}

func (d *Diagnostic) Unwrap() error { return d.Err }

// DiagnosticSink receives non-blocking diagnostics.
type DiagnosticSink func(Diagnostic)

// LinkResult is the outcome of LinkWallet.
type LinkResult struct {
	Address string `json:"address"`
	// Linked is true once Address is in the in-memory set.
	Linked bool `json:"linked"`
	// AlreadyLinked means the document already held Address and no write
	// was made.
	AlreadyLinked bool `json:"already_linked"`
	// Persisted is false when the document store is stale for this call.
	Persisted       bool        `json:"persisted"`
	WalletAddresses []string    `json:"wallet_addresses"`
	Diagnostic      *Diagnostic `json:"diagnostic,omitempty"`
}

// Linker runs link operations against the document store.
type Linker struct {
	profiles storage.ProfileStore
	session  SessionWallets
	sink     DiagnosticSink
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewLinker creates a linker. sink and m may be nil.
func NewLinker(profiles storage.ProfileStore, session SessionWallets, sink DiagnosticSink, m *metrics.Metrics, log *logger.Logger) *Linker {
	if log == nil {
		log = logger.NewDefault("linkage")
	}
	return &Linker{profiles: profiles, session: session, sink: sink, metrics: m, log: log}
}

// LinkWallet makes address a member of user's linked-wallet set.
//
// The read-modify-write of wallet_addresses is not atomic: two writers that
// both read before either writes lose one address from the document. The
// Coordinator funnels all calls through one goroutine.
func (l *Linker) LinkWallet(ctx context.Context, user *identity.User, address string) (LinkResult, error) {
	if user == nil || user.UID == "" {
		return LinkResult{}, svcerrors.NotAuthenticated("sign in to link a wallet")
	}
	address = chain.NormalizeAddress(address)
	if address == "" {
		return LinkResult{}, svcerrors.InvalidInput("address", "is required")
	}

	result := LinkResult{Address: address, Persisted: true}
	log := l.log.WithFields(map[string]interface{}{"user_id": user.UID, "address": address})

	doc, err := l.profiles.GetProfile(ctx, user.UID)
	switch {
	case err == nil:
		if contains(doc.WalletAddresses, address) {
			result.AlreadyLinked = true
			l.metrics.RecordLink(metrics.LinkAlreadyLinked)
			log.Debug("wallet already linked")
			break
		}
		list := append(append([]string{}, doc.WalletAddresses...), address)
		if err := l.profiles.UpdateProfileField(ctx, user.UID, storage.FieldWalletAddresses, list); err != nil {
			result.Persisted = false
			result.Diagnostic = l.report(user.UID, address, "update", err)
		}
	case storage.IsNotFound(err):
		err := l.profiles.SetProfile(ctx, storage.Profile{
			UID:             user.UID,
			Email:           user.Email,
			DisplayName:     user.DisplayName,
			PhotoURL:        user.PhotoURL,
			WalletAddresses: []string{address},
			CreatedAt:       time.Now().UTC(),
		})
		if err != nil {
			result.Persisted = false
			result.Diagnostic = l.report(user.UID, address, "create", err)
		}
	default:
		result.Persisted = false
		result.Diagnostic = l.report(user.UID, address, "read", err)
	}

	result.WalletAddresses = l.mirror(user, address)
	result.Linked = true

	switch {
	case result.AlreadyLinked:
	case result.Persisted:
		l.metrics.RecordLink(metrics.LinkPersisted)
		log.Info("wallet linked")
	default:
		l.metrics.RecordLink(metrics.LinkLocalOnly)
		log.Warn("wallet linked locally only; profile document is stale")
	}
	return result, nil
}

// mirror adds address to the Session User. When user is not the signed-in
// user the merge is computed on the snapshot alone.
func (l *Linker) mirror(user *identity.User, address string) []string {
	if l.session != nil {
		if list, ok := l.session.MergeWalletAddresses(user.UID, []string{address}); ok {
			return list
		}
	}
	if contains(user.WalletAddresses, address) {
		return append([]string{}, user.WalletAddresses...)
	}
	return append(append([]string{}, user.WalletAddresses...), address)
}

func (l *Linker) report(uid, address, op string, err error) *Diagnostic {
	d := Diagnostic{
		UID:     uid,
		Address: address,
		Op:      op,
		Kind:    svcerrors.GetDocumentStoreKind(err),
		Message: err.Error(),
		Err:     err,
		At:      time.Now().UTC(),
	}
	l.log.WithError(err).WithFields(map[string]interface{}{
		"user_id": uid,
		"address": address,
		"op":      op,
		"kind":    string(d.Kind),
	}).Warn("profile document write skipped")
	if l.sink != nil {
		l.sink(d)
	}
	return &d
}

// GetLinkedWallets returns the linked wallets of user. It never fails: an
// absent user or an unreachable store yields an empty list.
func (l *Linker) GetLinkedWallets(ctx context.Context, user *identity.User) []string {
	if user == nil || user.UID == "" {
		return []string{}
	}
	if len(user.WalletAddresses) > 0 {
		return append([]string{}, user.WalletAddresses...)
	}

	doc, err := l.profiles.GetProfile(ctx, user.UID)
	if err != nil {
		if !storage.IsNotFound(err) {
			l.log.WithError(err).WithField("user_id", user.UID).Warn("linked wallets read failed")
		}
		return []string{}
	}
	if len(doc.WalletAddresses) == 0 {
		return []string{}
	}
	if l.session != nil {
		if list, ok := l.session.MergeWalletAddresses(user.UID, doc.WalletAddresses); ok {
			return list
		}
	}
	return append([]string{}, doc.WalletAddresses...)
}

func contains(list []string, address string) bool {
	want := chain.NormalizeAddress(address)
	for _, a := range list {
		if chain.NormalizeAddress(a) == want {
			return true
		}
	}
	return false
}

