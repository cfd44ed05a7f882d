package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStructuredText(t *testing.T) {
	body := `{"users":[{"id":1,"name":"Ana","email":"a@x.com","age":30,"city":"Lima"}],"total":1,"timestamp":"2024-01-01T00:00:00Z","extra":true}`

	snap, err := Decode([]byte(body), StructuredText, nil)
	require.NoError(t, err)

	require.Len(t, snap.Users, 1)
	assert.Equal(t, int64(1), snap.Users[0].ID)
	assert.Equal(t, "Ana", snap.Users[0].Name)
	assert.Equal(t, "a@x.com", snap.Users[0].Email)
	assert.Equal(t, int64(30), snap.Users[0].Age)
	assert.Equal(t, "Lima", snap.Users[0].City)
	assert.Equal(t, int64(1), snap.Total)
	assert.Equal(t, "2024-01-01T00:00:00Z", snap.Timestamp)
}

func TestDecodeStructuredText_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"not json", `<html>oops</html>`},
		{"truncated", `{"users":[{"id":1,`},
		{"array root", `[]`},
		{"missing users", `{"total":1,"timestamp":"t"}`},
		{"missing total", `{"users":[],"timestamp":"t"}`},
		{"missing timestamp", `{"users":[],"total":0}`},
		{"total as string", `{"users":[],"total":"1","timestamp":"t"}`},
		{"timestamp as number", `{"users":[],"total":0,"timestamp":0}`},
		{"users as object", `{"users":{},"total":0,"timestamp":"t"}`},
		{"user missing city", `{"users":[{"id":1,"name":"Ana","email":"a@x.com","age":30}],"total":1,"timestamp":"t"}`},
		{"fractional age", `{"users":[{"id":1,"name":"Ana","email":"a@x.com","age":30.5,"city":"Lima"}],"total":1,"timestamp":"t"}`},
		{"null name", `{"users":[{"id":1,"name":null,"email":"a@x.com","age":30,"city":"Lima"}],"total":1,"timestamp":"t"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body), StructuredText, nil)
			require.Error(t, err)

			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, StructuredText, decodeErr.Format)
		})
	}
}

func TestEncodeStructuredText_NilUsers(t *testing.T) {
	h := testHandle(t)
	sample := sampleSnapshot()
	sample.Users = nil

	payload, err := Encode(sample, StructuredText, h)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"users":[]`)
}

func TestDecodeStructuredText_ExactKeys(t *testing.T) {
	body := `{"users":[{"id":1,"name":"Ana","email":"a@x.com","age":30,"city":"Lima","ID":7,"Name":"Eve"}],` +
		`"total":1,"timestamp":"2024-01-01T00:00:00Z","Total":99,"TIMESTAMP":"later"}`

	snap, err := Decode([]byte(body), StructuredText, nil)
	require.NoError(t, err)

	require.Len(t, snap.Users, 1)
	assert.Equal(t, int64(1), snap.Users[0].ID)
	assert.Equal(t, "Ana", snap.Users[0].Name)
	assert.Equal(t, int64(1), snap.Total)
	assert.Equal(t, "2024-01-01T00:00:00Z", snap.Timestamp)
}

func TestDecodeStructuredText_IntegerForms(t *testing.T) {
	tests := []struct {
		name    string
		age     string
		want    int64
		wantErr bool
	}{
		{name: "plain", age: "30", want: 30},
		{name: "fraction zero", age: "30.0", want: 30},
		{name: "exponent", age: "3e1", want: 30},
		{name: "negative", age: "-4", want: -4},
		{name: "beyond int64", age: "1e30", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"users":[{"id":1,"name":"Ana","email":"a@x.com","age":` + tt.age +
				`,"city":"Lima"}],"total":1,"timestamp":"t"}`

			snap, err := Decode([]byte(body), StructuredText, nil)
			if tt.wantErr {
				var decodeErr *DecodeError
				require.ErrorAs(t, err, &decodeErr)
				assert.ErrorContains(t, err, "users[0]: field age")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, snap.Users[0].Age)
		})
	}
}
