package sessions

import (
	"encoding/json"
	"testing"
)

func TestStateScopeRouting(t *testing.T) {
	st := NewState(nil, nil, nil)
	st.Set("app:a", raw(`1`))
	st.Set("user:b", raw(`2`))
	st.Set("temp:c", raw(`3`))
	st.Set("d", raw(`4`))

	tests := []struct {
		key  string
		want string
	}{
		{"app:a", `1`},
		{"user:b", `2`},
		{"temp:c", `3`},
		{"d", `4`},
	}
	for _, tt := range tests {
		got, ok := st.Get(tt.key)
		if !ok || string(got) != tt.want {
			t.Errorf("Get(%q) = %s (ok=%v), want %s", tt.key, got, ok, tt.want)
		}
	}
	if _, ok := st.Get("missing"); ok {
		t.Error("missing key should not resolve")
	}
}

func TestStatePersistDropsTemp(t *testing.T) {
	st := NewState(nil, nil, nil)
	st.Set("keep", raw(`true`))
	st.Set("temp:drop", raw(`true`))

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := flat["temp:drop"]; ok {
		t.Error("temp: keys must not serialize")
	}
	if _, ok := flat["keep"]; !ok {
		t.Error("session keys must serialize")
	}
}

func TestStateClearTemp(t *testing.T) {
	st := NewState(nil, nil, nil)
	st.Set("temp:x", raw(`1`))
	st.ClearTemp()
	if _, ok := st.Get("temp:x"); ok {
		t.Error("ClearTemp should drop invocation-scoped entries")
	}
}

func TestStateAllIncludesEveryScope(t *testing.T) {
	app := map[string]json.RawMessage{"app:x": raw(`1`)}
	user := map[string]json.RawMessage{"user:y": raw(`2`)}
	st := NewState(app, user, map[string]json.RawMessage{"z": raw(`3`)})
	st.Set("temp:w", raw(`4`))

	all := st.All()
	for _, key := range []string{"app:x", "user:y", "z", "temp:w"} {
		if _, ok := all[key]; !ok {
			t.Errorf("All() missing %q", key)
		}
	}
}
