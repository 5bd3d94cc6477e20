package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurvey_UnmarshalPayout(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int64
		wantErr error
	}{
		{name: "payout", body: `{"id":"s1","payout":50}`, want: 50},
		{name: "legacy reward rounded", body: `{"id":"s1","reward":49.6}`, want: 50},
		{name: "negative becomes zero", body: `{"id":"s1","payout":-20}`, want: 0},
		{name: "at maximum", body: `{"id":"s1","payout":1000000000}`, want: MaxPayout},
		{name: "above maximum", body: `{"id":"s1","payout":1000000001}`, wantErr: ErrPayoutOutOfRange},
		{name: "huge", body: `{"id":"s1","payout":1e300}`, wantErr: ErrPayoutOutOfRange},
		{name: "huge legacy reward", body: `{"id":"s1","reward":9.3e18}`, wantErr: ErrPayoutOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sv Survey
			err := json.Unmarshal([]byte(tt.body), &sv)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sv.Payout)
			assert.GreaterOrEqual(t, sv.Payout, int64(0))
		})
	}
}
