package logslink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	deploymentID = "dpl_8xp0dtk2"
	timestamp    = 1661772694
)

func TestMakeURL(t *testing.T) {
	ts := time.Unix(timestamp, 0)
	assert.Equal(t, "https://vercel.example/logs?deployment_id=dpl_8xp0dtk2&ts=1661772694&v=1", MakeURL("https://vercel.example/", deploymentID, ts))
}

func TestKibanaURL(t *testing.T) {
	ts := time.Unix(timestamp, 0)
	link, err := KibanaURL("https://logs.example", "96e648c0-980a-11e9-830a-e17bbd64b4db", deploymentID, ts)
	assert.NoError(t, err)
	assert.Equal(t, "https://logs.example/app/kibana#/discover?_a=(index:'96e648c0-980a-11e9-830a-e17bbd64b4db',query:(language:lucene,query:'+deployment_id:\"dpl_8xp0dtk2\" -level:\"Trace\" -level:\"Debug\"'))&_g=(time:(from:'2022-08-29T00:00:00Z',mode:absolute,to:'2022-08-30T00:00:00Z'))", link)
}

func TestMake(t *testing.T) {
	ts := time.Unix(timestamp, 0)
	assert.Empty(t, Make("", "", deploymentID, ts))
	assert.Contains(t, Make("https://vercel.example", "", deploymentID, ts), "/logs?deployment_id=")
	assert.Contains(t, Make("https://logs.example", "idx", deploymentID, ts), "/app/kibana#/discover")
}
