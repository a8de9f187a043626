// Package firestore provides Firestore-backed implementations of the
// repository contracts, including a transactional unit of work shared by the
// order and invoice repositories.
package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/atelierbleu/api/internal/platform/firestore"
)

type contextKey string

const txContextKey contextKey = "github.com/atelierbleu/api/internal/repositories/firestore/tx"

// UnitOfWork implements repositories.UnitOfWork on top of Firestore
// transactions. Repository mutations performed inside RunInTx detect the
// transaction on the context and enlist their writes in it, so the invoice
// insert and the order flag update commit atomically.
type UnitOfWork struct {
	provider *pfirestore.Provider
}

// NewUnitOfWork constructs a Firestore unit of work.
func NewUnitOfWork(provider *pfirestore.Provider) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider}, nil
}

// RunInTx executes fn inside one Firestore transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("unit of work: fn is required")
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(ctx, txContextKey, tx))
	})
}

// notFoundError builds a missing-document error carrying repository semantics.
func notFoundError(op, id string) error {
	return pfirestore.WrapError(op, status.Errorf(codes.NotFound, "document %s not found", id))
}

// transactionFrom returns the enclosing transaction, if any.
func transactionFrom(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey).(*firestore.Transaction)
	return tx, ok && tx != nil
}
