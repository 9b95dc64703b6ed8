package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	vars := map[string]string{
		"steamid":  "76561198000000001",
		"username": "Alice",
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"single placeholder", "inventory.giveto {steamid} rifle.ak 1", "inventory.giveto 76561198000000001 rifle.ak 1"},
		{"repeated placeholder", "{username} {username}", "Alice Alice"},
		{"unknown key kept literally", "kit give {username} {kit}", "kit give Alice {kit}"},
		{"no placeholders", "server.save", "server.save"},
		{"empty template", "", ""},
		{"unbalanced braces", "say {username", "say {username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, vars))
		})
	}
}

func TestRender_ValueIsNotReparsed(t *testing.T) {
	vars := map[string]string{
		"username": "{steamid}",
		"steamid":  "123",
	}

	assert.Equal(t, "say {steamid}", Render("say {username}", vars))
}

func TestRender_Idempotent(t *testing.T) {
	vars := map[string]string{"player": "765", "username": "Bob"}
	templates := []string{
		"oxide.usergroup add {player} vip",
		"say {username} bought {product}",
		"plain",
	}

	for _, tpl := range templates {
		once := Render(tpl, vars)
		assert.Equal(t, once, Render(once, vars))
	}
}

func TestRender_NilVars(t *testing.T) {
	assert.Equal(t, "give {player}", Render("give {player}", nil))
}

func TestRenderAll_PreservesOrder(t *testing.T) {
	out := RenderAll([]string{"a {x}", "b {x}", "c"}, map[string]string{"x": "1"})
	assert.Equal(t, []string{"a 1", "b 1", "c"}, out)
}
