package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestResolve(t *testing.T) {
	var tests = []struct {
		name   string
		repo   contentRepo
		ref    ContentRef
		hint   *int64
		quote  *PriceQuote
		err    error
	}{
		{
			name: "trusted price, no hint",
			repo: &mockContentRepo{FindContentPriceRow: &ContentPrice{
				Price:       int64p(1000),
				OwnerPubkey: "owner",
				OwnerUserID: "user-1",
				EventID:     "event123",
			}},
			ref: ResourceRef("res-1"),
			quote: &PriceQuote{
				Price:         1000,
				Source:        SourceTrusted,
				ContentType:   ContentResource,
				ContentID:     "res-1",
				OwnerPubkey:   "owner",
				OwnerUserID:   "user-1",
				TargetEventID: "event123",
			},
		},
		{
			name: "trusted price ignores hint",
			repo: &mockContentRepo{FindContentPriceRow: &ContentPrice{
				Price: int64p(1000),
			}},
			ref:  ResourceRef("res-1"),
			hint: int64p(0),
			quote: &PriceQuote{
				Price:       1000,
				Source:      SourceTrusted,
				ContentType: ContentResource,
				ContentID:   "res-1",
			},
		},
		{
			name: "no stored price falls back to hint, untrusted",
			repo: &mockContentRepo{FindContentPriceRow: &ContentPrice{}},
			ref:  CourseRef("course-1"),
			hint: int64p(5000),
			quote: &PriceQuote{
				Price:       5000,
				Source:      SourceUntrustedHint,
				ContentType: ContentCourse,
				ContentID:   "course-1",
			},
		},
		{
			name: "negative hint clamps to zero",
			repo: &mockContentRepo{FindContentPriceRow: &ContentPrice{}},
			ref:  ResourceRef("res-1"),
			hint: int64p(-50),
			quote: &PriceQuote{
				Price:       0,
				Source:      SourceUntrustedHint,
				ContentType: ContentResource,
				ContentID:   "res-1",
			},
		},
		{
			name: "both ids is not found",
			repo: &mockContentRepo{},
			ref:  ContentRef{ResourceID: "res-1", CourseID: "course-1"},
			err:  ErrContentNotFound,
		},
		{
			name: "neither id is not found",
			repo: &mockContentRepo{},
			ref:  ContentRef{},
			err:  ErrContentNotFound,
		},
		{
			name: "missing row is not found",
			repo: &mockContentRepo{},
			ref:  ResourceRef("nope"),
			err:  ErrContentNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.repo, nil)

			quote, err := r.Resolve(context.Background(), tt.ref, tt.hint)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.quote, quote)
		})
	}
}

func TestResolveRepoError(t *testing.T) {
	boom := errors.New("db down")
	r := New(&mockContentRepo{FindContentPriceErr: boom}, nil)

	_, err := r.Resolve(context.Background(), ResourceRef("res-1"), nil)
	assert.ErrorIs(t, err, boom)
}

func TestResolveMismatchCallback(t *testing.T) {
	var gotTrusted, gotHint int64
	var fired int

	r := New(&mockContentRepo{FindContentPriceRow: &ContentPrice{Price: int64p(1000)}},
		func(ref ContentRef, trusted, hint int64) {
			fired++
			gotTrusted, gotHint = trusted, hint
		})

	// Matching hint: no callback.
	_, err := r.Resolve(context.Background(), ResourceRef("res-1"), int64p(1000))
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	// Disagreeing hint: callback fires, trusted price still returned.
	quote, err := r.Resolve(context.Background(), ResourceRef("res-1"), int64p(0))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, int64(1000), gotTrusted)
	assert.Equal(t, int64(0), gotHint)
	assert.Equal(t, int64(1000), quote.Price)
	assert.Equal(t, SourceTrusted, quote.Source)
}
