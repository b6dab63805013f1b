package auth

import (
	"context"
	"testing"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

func TestIdentityContext(t *testing.T) {
	t.Parallel()

	if got := IdentityFromContext(context.Background()); got != nil {
		t.Errorf("IdentityFromContext on empty context = %v, want nil", got)
	}
	if got := UsernameFromContext(context.Background()); got != "" {
		t.Errorf("UsernameFromContext on empty context = %q, want empty", got)
	}

	id := &model.Identity{Username: "alice", Email: "alice@example.com"}
	ctx := ContextWithIdentity(context.Background(), id)

	if got := IdentityFromContext(ctx); got != id {
		t.Errorf("IdentityFromContext = %v, want %v", got, id)
	}
	if got := UsernameFromContext(ctx); got != "alice" {
		t.Errorf("UsernameFromContext = %q, want alice", got)
	}
	if got := StoreKeyFromContext(ctx); got != "alice" {
		t.Errorf("StoreKeyFromContext without key = %q, want alice", got)
	}

	keyed := ContextWithIdentity(context.Background(), &model.Identity{Username: "alice", Key: LocalNamespace + "alice"})
	if got := StoreKeyFromContext(keyed); got != "local:alice" {
		t.Errorf("StoreKeyFromContext = %q, want local:alice", got)
	}
	if got := StoreKeyFromContext(context.Background()); got != "" {
		t.Errorf("StoreKeyFromContext on empty context = %q, want empty", got)
	}
}
