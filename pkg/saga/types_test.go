// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package saga

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStringRoundTrip(t *testing.T) {
	statuses := []Status{
		StatusNotStarted, StatusInProgress, StatusAwaiting,
		StatusCompleted, StatusCompensating, StatusCompensated, StatusFailed,
	}
	for _, status := range statuses {
		parsed, err := ParseStatus(status.String())
		require.NoError(t, err)
		assert.Equal(t, status, parsed)
	}
}

func TestParseStatusUnknown(t *testing.T) {
	_, err := ParseStatus("bogus")
	assert.Error(t, err)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status    Status
		terminal  bool
		resumable bool
	}{
		{StatusNotStarted, false, false},
		{StatusInProgress, false, true},
		{StatusAwaiting, false, true},
		{StatusCompleted, true, false},
		{StatusCompensating, false, true},
		{StatusCompensated, true, false},
		{StatusFailed, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.resumable, tt.status.IsResumable())
		})
	}
}

func TestStatusJSONEncoding(t *testing.T) {
	data, err := json.Marshal(StatusCompensating)
	require.NoError(t, err)
	assert.Equal(t, `"compensating"`, string(data))

	var status Status
	require.NoError(t, json.Unmarshal([]byte(`"awaiting"`), &status))
	assert.Equal(t, StatusAwaiting, status)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &status))
}

func TestEntityClone(t *testing.T) {
	entity := &Entity{
		SagaID:           uuid.New(),
		SagaType:         "order",
		Status:           StatusInProgress,
		CurrentStepIndex: 1,
		ContextData:      []byte(`{"a":1}`),
		ConcurrencyToken: 3,
		CreatedAt:        time.Now(),
	}

	clone := entity.Clone()
	require.Equal(t, entity, clone)

	clone.ContextData[0] = 'X'
	assert.Equal(t, byte('{'), entity.ContextData[0], "clone must not share the context slice")
}

func TestStepPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  *StepPolicy
		wantErr bool
	}{
		{"nil policy", nil, false},
		{"zero policy", &StepPolicy{}, false},
		{"valid", &StepPolicy{MaxRetries: 3, Timeout: time.Second, RetryDelay: 10 * time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}, false},
		{"negative retries", &StepPolicy{MaxRetries: -1}, true},
		{"negative timeout", &StepPolicy{Timeout: -time.Second}, true},
		{"max delay below base", &StepPolicy{RetryDelay: time.Second, MaxDelay: time.Millisecond}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	codec := NewJSONCodec()
	data, err := codec.Marshal(&payload{Name: "x", Count: 2})
	require.NoError(t, err)

	var out payload
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, payload{Name: "x", Count: 2}, out)

	_, err = codec.Marshal(nil)
	assert.Error(t, err)
	assert.Error(t, codec.Unmarshal(nil, &out))
}

func TestFactoryResolver(t *testing.T) {
	type ctxType struct{}

	resolver := NewFactoryResolver[ctxType]()
	_, err := resolver.Resolve("missing")
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeStepNotRegistered))

	calls := 0
	resolver.Register("counted", func() Step[ctxType] {
		calls++
		return nil
	})
	_, err = resolver.Resolve("counted")
	require.NoError(t, err)
	_, err = resolver.Resolve("counted")
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "factory must run once per resolve")
}
