package mtop

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpt_Decode(t *testing.T) {
	var v struct {
		Str   Opt `json:"str"`
		Num   Opt `json:"num"`
		Bool  Opt `json:"bool"`
		Null  Opt `json:"null"`
		Obj   Opt `json:"obj"`
		Empty Opt `json:"empty"`
		Gone  Opt `json:"gone"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"str":"a","num":12,"bool":true,"null":null,"obj":{"x":1},"empty":""}`), &v))

	assert.Equal(t, "a", v.Str.Or("d"))
	assert.Equal(t, "12", v.Num.Or("d"))
	assert.Equal(t, "true", v.Bool.Or("d"))
	assert.Equal(t, "d", v.Null.Or("d"))
	assert.Equal(t, "d", v.Obj.Or("d"))
	assert.Equal(t, "", v.Empty.Or("d"), "present empty strings are kept")
	assert.False(t, v.Gone.Valid())
}

func TestOpt_Int(t *testing.T) {
	n, ok := S("42").Int()
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	n, ok = S("3.9").Int()
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = S("many").Int()
	assert.False(t, ok)
	_, ok = Opt{}.Int()
	assert.False(t, ok)
}

func TestOpt_Digits(t *testing.T) {
	assert.True(t, S("1700000000000").Digits())
	assert.False(t, S("-1").Digits())
	assert.False(t, S("").Digits())
	assert.False(t, Opt{}.Digits())
}

func TestOpt_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		A Opt `json:"a"`
		B Opt `json:"b"`
	}{A: S("x")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x","b":null}`, string(out))
}

func TestEnvelope(t *testing.T) {
	type data struct {
		Pages
		Name Opt `json:"name"`
	}
	env, err := Decode[data]([]byte(`{"api":"x","ret":["SUCCESS::ok"],"data":{"nextPage":false,"name":"n"}}`))
	require.NoError(t, err)
	assert.True(t, env.Succeeded())
	next, known := env.Data.HasNext()
	assert.False(t, next)
	assert.True(t, known)
	assert.Equal(t, "n", env.Data.Name.Or(""))

	env, err = Decode[data]([]byte(`{"ret":["FAIL_SYS_USER_VALIDATE::x"]}`))
	require.NoError(t, err)
	assert.False(t, env.Succeeded())
	assert.Nil(t, env.Data)

	_, known = Pages{}.HasNext()
	assert.False(t, known)

	_, err = Decode[data]([]byte(`nope`))
	assert.Error(t, err)
}
