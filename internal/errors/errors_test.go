package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchError_ErrorString(t *testing.T) {
	cases := map[string]struct {
		err  *SearchError
		want string
	}{
		"config":  {New(ErrCodeConfigNotFound, "config file not found", nil), "[ERR_101_CONFIG_NOT_FOUND] config file not found"},
		"storage": {New(ErrCodeStoryNotFound, "story US-7 not found", nil), "[ERR_201_STORY_NOT_FOUND] story US-7 not found"},
		"rerank":  {New(ErrCodeRerankUnavailable, "judge returned 503", nil), "[ERR_302_RERANK_UNAVAILABLE] judge returned 503"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestSearchError_WrapChain(t *testing.T) {
	t.Run("unwrap returns the cause", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeStoryNotFound, "story not found: US-1042", cause)

		assert.Equal(t, cause, errors.Unwrap(err))
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("is matches by code, not message", func(t *testing.T) {
		a := New(ErrCodeStoryNotFound, "story A not found", nil)
		b := New(ErrCodeStoryNotFound, "story B not found", nil)

		assert.True(t, errors.Is(a, b))
	})

	t.Run("is rejects different codes", func(t *testing.T) {
		a := New(ErrCodeStoryNotFound, "story not found", nil)
		b := New(ErrCodeConfigNotFound, "config not found", nil)

		assert.False(t, errors.Is(a, b))
	})
}

func TestSearchError_Builders(t *testing.T) {
	t.Run("with detail chains", func(t *testing.T) {
		err := New(ErrCodeStoreIO, "write failed", nil).
			WithDetail("path", "/var/lib/storysearch/stories.db").
			WithDetail("story_id", "US-1042")

		assert.Equal(t, "/var/lib/storysearch/stories.db", err.Details["path"])
		assert.Equal(t, "US-1042", err.Details["story_id"])
	})

	t.Run("with suggestion", func(t *testing.T) {
		err := New(ErrCodeNetworkTimeout, "connection timed out", nil).
			WithSuggestion("Check your network connection")

		assert.Equal(t, "Check your network connection", err.Suggestion)
	})
}

// One table for the full code-to-classification mapping: category from
// the hundreds digit, severity and retryability from the code itself.
func TestNew_DerivesClassificationFromCode(t *testing.T) {
	cases := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigNotFound, CategoryConfig, SeverityError, false},
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeStoryNotFound, CategoryStorage, SeverityError, false},
		{ErrCodeStoreIO, CategoryStorage, SeverityError, false},
		{ErrCodeCorruptIndex, CategoryStorage, SeverityFatal, false},
		{ErrCodeIndexLocked, CategoryStorage, SeverityFatal, false},
		{ErrCodeNetworkTimeout, CategoryNetwork, SeverityWarning, true},
		{ErrCodeRerankUnavailable, CategoryNetwork, SeverityWarning, true},
		{ErrCodeEmbeddingAPI, CategoryNetwork, SeverityWarning, true},
		{ErrCodeRateLimited, CategoryNetwork, SeverityWarning, true},
		{ErrCodeInvalidParam, CategoryValidation, SeverityError, false},
		{ErrCodeQueryEmpty, CategoryValidation, SeverityError, false},
		{ErrCodeQueryTooLong, CategoryValidation, SeverityError, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
		{ErrCodeEmbeddingFailed, CategoryInternal, SeverityError, false},
		// Codes too short to carry a subsystem digit fall back to internal.
		{"BOGUS", CategoryInternal, SeverityError, false},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := New(tc.code, "test message", nil)

			assert.Equal(t, tc.category, err.Category)
			assert.Equal(t, tc.severity, err.Severity)
			assert.Equal(t, tc.retryable, err.Retryable)
		})
	}
}

func TestWrap(t *testing.T) {
	t.Run("lifts message and cause", func(t *testing.T) {
		cause := errors.New("something went wrong")

		err := Wrap(ErrCodeInternal, cause)

		require.NotNil(t, err)
		assert.Equal(t, ErrCodeInternal, err.Code)
		assert.Equal(t, "something went wrong", err.Message)
		assert.Equal(t, cause, err.Cause)
	})

	t.Run("nil wraps to nil", func(t *testing.T) {
		assert.Nil(t, Wrap(ErrCodeInternal, nil))
	})
}

func TestConstructors_PinCategoryDefaults(t *testing.T) {
	cases := []struct {
		name     string
		build    func(string, error) *SearchError
		code     string
		category Category
	}{
		{"config", ConfigError, ErrCodeConfigInvalid, CategoryConfig},
		{"storage", StorageError, ErrCodeStoreIO, CategoryStorage},
		{"network", NetworkError, ErrCodeNetworkTimeout, CategoryNetwork},
		{"validation", ValidationError, ErrCodeInvalidParam, CategoryValidation},
		{"embedding", EmbeddingError, ErrCodeEmbeddingAPI, CategoryNetwork},
		{"rerank", RerankError, ErrCodeRerankUnavailable, CategoryNetwork},
		{"internal", InternalError, ErrCodeInternal, CategoryInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.build("boom", errors.New("cause"))

			assert.Equal(t, tc.code, err.Code)
			assert.Equal(t, tc.category, err.Category)
			assert.Equal(t, "boom", err.Message)
		})
	}

	t.Run("network and embedding are retryable", func(t *testing.T) {
		assert.True(t, NetworkError("connection refused", nil).Retryable)
		assert.True(t, EmbeddingError("embedding request failed", nil).Retryable)
	})

	t.Run("rerank degrades instead of failing", func(t *testing.T) {
		err := RerankError("judge unavailable", nil)

		assert.Equal(t, SeverityWarning, err.Severity)
		assert.True(t, err.Retryable)
	})
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"retryable code":          {New(ErrCodeNetworkTimeout, "timeout", nil), true},
		"non-retryable code":      {New(ErrCodeStoryNotFound, "not found", nil), false},
		"wrapped retryable":       {Wrap(ErrCodeNetworkTimeout, errors.New("wrapped")), true},
		"inside a fmt wrap chain": {fmt.Errorf("search: %w", New(ErrCodeRateLimited, "429", nil)), true},
		"plain error":             {errors.New("standard error"), false},
		"nil":                     {nil, false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"corrupt index":           {New(ErrCodeCorruptIndex, "index corrupt", nil), true},
		"index locked":            {New(ErrCodeIndexLocked, "another process holds the lock", nil), true},
		"ordinary failure":        {New(ErrCodeStoryNotFound, "not found", nil), false},
		"inside a fmt wrap chain": {fmt.Errorf("startup: %w", New(ErrCodeIndexLocked, "locked", nil)), true},
		"plain error":             {errors.New("standard error"), false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsFatal(tc.err))
		})
	}
}

func TestGetCode_WalksWrapChain(t *testing.T) {
	// A SearchError buried two fmt.Errorf levels deep is still found.
	inner := New(ErrCodeEmbeddingAPI, "502 from embedding endpoint", nil)
	outer := fmt.Errorf("hybrid search: %w", fmt.Errorf("embed query: %w", inner))

	assert.Equal(t, ErrCodeEmbeddingAPI, GetCode(outer))
	assert.Equal(t, CategoryNetwork, GetCategory(outer))

	// Plain errors yield empty values.
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.Equal(t, Category(""), GetCategory(errors.New("plain")))
}
