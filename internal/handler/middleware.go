package handler

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid"
)

type contextKey string

const buyerIDKey contextKey = "buyer_id"

// BuyerIdentity extracts the authenticated buyer's id from the X-User-ID
// header. Session verification happens upstream at the gateway; this
// middleware only parses the id it forwarded.
func BuyerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			respondWithError(w, http.StatusUnauthorized, "missing user identity")
			return
		}

		buyerID, err := uuid.FromString(raw)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "invalid user identity")
			return
		}

		ctx := context.WithValue(r.Context(), buyerIDKey, buyerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func buyerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(buyerIDKey).(uuid.UUID)
	return id, ok
}
