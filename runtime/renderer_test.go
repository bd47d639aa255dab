package runtime

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/riskflow/types"
	"github.com/warriorguo/riskflow/velocity"
)

func nodeLine(dot, id string) string {
	for _, line := range strings.Split(dot, "\n") {
		if strings.HasPrefix(line, id+" [") {
			return line
		}
	}
	return ""
}

func TestRendering(t *testing.T) {
	wf := DefaultWorkflow()

	dot := RenderDOT(wf, nil)
	fmt.Printf("default workflow DOT: %+v\n", dot)
	assert.True(t, strings.HasPrefix(dot, "digraph D {\n"))
	assert.True(t, strings.HasSuffix(dot, "}\n"))
	assert.Contains(t, dot, "input_node -> geo_check\n")
	assert.Contains(t, dot, "anomaly -> decision\n")
	assert.Contains(t, nodeLine(dot, "decision"), `shape="diamond"`)
	for _, n := range wf.Nodes {
		assert.Contains(t, nodeLine(dot, idString(n.ID)), `color="white"`, n.ID)
	}

	services := &types.Services{VelocityCache: velocity.NewMemoryCache()}
	tx := riskyTransaction("tx-render")
	result := Execute(context.Background(), NewDefaultRegistry(), wf, tx, services)

	dot = RenderDOT(wf, result.History)
	fmt.Printf("default workflow with status DOT: %+v\n", dot)
	assert.Contains(t, nodeLine(dot, "input_node"), `color="green"`)
	assert.Contains(t, nodeLine(dot, "geo_check"), `color="orange"`)
	assert.Contains(t, nodeLine(dot, "velocity_check"), `color="green"`)
	assert.Contains(t, nodeLine(dot, "anomaly"), `color="red"`)
	assert.Contains(t, nodeLine(dot, "decision"), `color="white"`)
	assert.Contains(t, nodeLine(dot, "anomaly"), `comment="`)
	assert.Contains(t, nodeLine(dot, "anomaly"), "riskScore")

	assert.Equal(t, "digraph D {\n}\n", RenderDOT(nil, nil))
}

func TestRenderHelpers(t *testing.T) {
	assert.Equal(t, "geo_check_v2", idString("geo-check.v2"))
	assert.Equal(t, `"say \"hi\""`, quoteString(`say "hi"`))
	assert.Equal(t, `a\ b\"c\\`, addSlashes(`a b"c\`))
	assert.Equal(t, `a\nb`, formatNL("a\nb"))
}
