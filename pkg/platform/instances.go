package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nais/deploywatch/pkg/scale"
)

type regionInstances struct {
	Instances []json.RawMessage `json:"instances"`
}

// Snapshot returns the number of running instances per region, in a single request.
func (c *Client) Snapshot(ctx context.Context, deploymentID string) (scale.Snapshot, error) {
	path := fmt.Sprintf("/v2/deployments/%s/instances", url.PathEscape(deploymentID))

	resp, err := c.request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	regions := make(map[string]regionInstances)
	if err := json.NewDecoder(resp.Body).Decode(&regions); err != nil {
		return nil, fmt.Errorf("decode instances: %w", err)
	}

	snapshot := make(scale.Snapshot, len(regions))
	for region, ri := range regions {
		snapshot[region] = len(ri.Instances)
	}

	return snapshot, nil
}

// SetScale submits the desired instance range for each region.
func (c *Client) SetScale(ctx context.Context, deploymentID string, constraints scale.Constraints) error {
	path := fmt.Sprintf("/v3/deployments/%s/instances", url.PathEscape(deploymentID))

	resp, err := c.request(ctx, http.MethodPatch, path, nil, constraints)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
