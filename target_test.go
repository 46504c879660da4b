package relaymq_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymq/adapter"
)

func TestParseCommandTarget(t *testing.T) {
	t.Parallel()

	for tname, tc := range map[string]struct {
		target    string
		expected  relaymq.CommandTarget
		expectErr bool
	}{
		"valid": {
			target:   "orders/create",
			expected: relaymq.CommandTarget{Queue: "orders", Method: "create"},
		},
		"no slash": {
			target:    "orders",
			expectErr: true,
		},
		"empty queue": {
			target:    "/create",
			expectErr: true,
		},
		"empty method": {
			target:    "orders/",
			expectErr: true,
		},
		"extra slash goes to method": {
			target:   "orders/create/now",
			expected: relaymq.CommandTarget{Queue: "orders", Method: "create/now"},
		},
	} {
		t.Run(tname, func(t *testing.T) {
			t.Parallel()

			ct, err := relaymq.ParseCommandTarget(tc.target)
			if tc.expectErr {
				var cfgErr *relaymq.ConfigError
				require.ErrorAs(t, err, &cfgErr)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, ct)
		})
	}
}

func TestParseEventTarget(t *testing.T) {
	t.Parallel()

	for tname, tc := range map[string]struct {
		target    string
		expected  relaymq.EventTarget
		expectErr bool
	}{
		"valid": {
			target:   "orders#created",
			expected: relaymq.EventTarget{Topic: "orders", EventType: "created"},
		},
		"no hash": {
			target:    "orders",
			expectErr: true,
		},
		"empty topic": {
			target:    "#created",
			expectErr: true,
		},
		"empty event type": {
			target:    "orders#",
			expectErr: true,
		},
	} {
		t.Run(tname, func(t *testing.T) {
			t.Parallel()

			et, err := relaymq.ParseEventTarget(tc.target)
			if tc.expectErr {
				var cfgErr *relaymq.ConfigError
				require.ErrorAs(t, err, &cfgErr)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, et)
		})
	}
}
