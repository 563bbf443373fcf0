package mongoledger

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"folio/internal/models"
)

// Points ledger. One document per user: {_id: user_id, balance: N}.
// Reservation is a single atomic decrement guarded by a balance filter, so
// concurrent producers can never drive a balance negative.

type pointsAccount struct {
	UserID  string `bson:"_id"`
	Balance int64  `bson:"balance"`
}

func (s *Store) points() *mongo.Collection {
	return s.db.Collection(colPoints)
}

// Reserve charges amount against the user's balance. Reserved points are
// never refunded by the core; only this precondition failure avoids the
// charge.
func (s *Store) Reserve(ctx context.Context, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("mongoledger: negative reserve amount %d", amount)
	}
	filter := bson.M{"_id": userID, "balance": bson.M{"$gte": amount}}
	update := bson.M{"$inc": bson.M{"balance": -amount}}

	err := s.points().FindOneAndUpdate(ctx, filter, update).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Missing account and low balance look the same to the caller.
			return models.ErrInsufficientPoints
		}
		return fmt.Errorf("mongoledger: reserve %d for %s: %w", amount, userID, err)
	}
	return nil
}

// Balance returns the user's current balance; unknown users have zero.
func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var acct pointsAccount
	err := s.points().FindOne(ctx, bson.M{"_id": userID}).Decode(&acct)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("mongoledger: balance for %s: %w", userID, err)
	}
	return acct.Balance, nil
}

// Grant tops up a user's balance. This is an operator/billing entry point,
// deliberately outside the PointsLedger interface the job core consumes.
func (s *Store) Grant(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mongoledger: grant amount must be positive, got %d", amount)
	}
	_, err := s.points().UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$inc": bson.M{"balance": amount}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongoledger: grant %d to %s: %w", amount, userID, err)
	}
	return nil
}
