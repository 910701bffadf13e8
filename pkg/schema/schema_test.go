package schema

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateJSON(t *testing.T) {
	d := NewDate(2024, time.January, 1)
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-01"`, string(b))

	var zero Date
	b, err = json.Marshal(zero)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	var got Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-05"`), &got))
	assert.Equal(t, "2024-03-05", got.String())

	require.Error(t, json.Unmarshal([]byte(`"05/03/2024"`), &got))
}

func TestChangesApply(t *testing.T) {
	d := NewDate(2024, time.May, 2)
	rec := Record{
		RecordID:       1,
		ExternalID:     "A2",
		Name:           Text("Alice"),
		Contact:        Text("555"),
		CollectionDate: &d,
	}

	email := "alice@example.com"
	blank := ""
	out := Changes{Email: &email, Contact: &blank, Date: &Date{}}.Apply(rec)

	assert.Equal(t, "alice@example.com", Deref(out.Email))
	assert.Nil(t, out.Contact, "empty string clears the field")
	assert.Nil(t, out.CollectionDate, "zero date clears the field")
	assert.Equal(t, "Alice", Deref(out.Name))
	assert.Equal(t, "555", Deref(rec.Contact), "source record is untouched")
}

func TestCloneIsDeep(t *testing.T) {
	rec := Record{Name: Text("Bob")}
	cp := rec.Clone()
	*cp.Name = "Mallory"
	assert.Equal(t, "Bob", Deref(rec.Name))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeLocked, ErrorCode(fmt.Errorf("record 4: %w", ErrLocked)))
	assert.Equal(t, CodeNotFound, ErrorCode(ErrNotFound))
	assert.Equal(t, CodeValidation, ErrorCode(fmt.Errorf("%w: bad", ErrValidation)))
	assert.Equal(t, CodeInternal, ErrorCode(fmt.Errorf("disk full")))
	assert.ErrorIs(t, CodeError(CodeLocked), ErrLocked)
	assert.Nil(t, CodeError(CodeInternal))
}

func TestPatchIsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	name := "x"
	assert.False(t, Patch{Name: &name}.IsEmpty())
}
