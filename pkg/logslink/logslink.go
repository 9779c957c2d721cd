// Package logslink builds links to the remote logs of a deployment.
package logslink

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gopkg.in/sakura-internet/go-rison.v3"
)

const (
	kibanaFormat = "%s/app/kibana#/discover?_a=%s&_g=%s"
	searchQuery  = "+deployment_id:\"%s\" -level:\"Trace\" -level:\"Debug\""
)

type query struct {
	Language string `json:"language"`
	Query    string `json:"query"`
}

type appState struct {
	Index string `json:"index"`
	Query query  `json:"query"`
}

type timeRange struct {
	From string `json:"from"`
	Mode string `json:"mode"`
	To   string `json:"to"`
}

type globalState struct {
	Time timeRange `json:"time"`
}

func oneDay(ts time.Time) timeRange {
	od := time.Hour * 24
	start := ts.UTC().Truncate(od)
	end := start.Add(od)

	startStr, _ := start.MarshalText()
	endStr, _ := end.MarshalText()

	return timeRange{
		From: string(startStr),
		Mode: "absolute",
		To:   string(endStr),
	}
}

// MakeURL returns the platform's own log page for a deployment.
func MakeURL(baseURL, deploymentID string, timestamp time.Time) string {
	return fmt.Sprintf("%s/logs?deployment_id=%s&ts=%d&v=1", strings.TrimRight(baseURL, "/"), url.QueryEscape(deploymentID), timestamp.Unix())
}

// KibanaURL returns a Kibana discover link searching the given index for the
// deployment's logs on the day of timestamp.
func KibanaURL(baseURL, index, deploymentID string, timestamp time.Time) (string, error) {
	as := appState{
		Index: index,
		Query: query{
			Language: "lucene",
			Query:    fmt.Sprintf(searchQuery, deploymentID),
		},
	}

	gs := globalState{
		Time: oneDay(timestamp),
	}

	a, err := rison.Encode(as, rison.Rison)
	if err != nil {
		return "", err
	}
	g, err := rison.Encode(gs, rison.Rison)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(kibanaFormat, strings.TrimRight(baseURL, "/"), string(a), string(g)), nil
}

// Make picks the Kibana format when an index is configured.
func Make(baseURL, index, deploymentID string, timestamp time.Time) string {
	if len(baseURL) == 0 {
		return ""
	}
	if len(index) == 0 {
		return MakeURL(baseURL, deploymentID, timestamp)
	}
	link, err := KibanaURL(baseURL, index, deploymentID, timestamp)
	if err != nil {
		return MakeURL(baseURL, deploymentID, timestamp)
	}
	return link
}
