package obscontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestAndOrgIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, " req-1 ")
	ctx = WithOrgID(ctx, "42")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "42", OrgIDFromContext(ctx))

	assert.Equal(t, ctx, WithRequestID(ctx, ""))
}
