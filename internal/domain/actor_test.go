package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ActorSystem, ActorFromContext(ctx))
	assert.Equal(t, ActorSystem, ActorFromContext(WithActor(ctx, "")))
	assert.Equal(t, "operator-1", ActorFromContext(WithActor(ctx, "operator-1")))
}
