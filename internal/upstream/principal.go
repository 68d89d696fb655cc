package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Principal is the subset of the upstream's current-user resource the
// session keeps.
type Principal struct {
	PersonID        int64   `json:"PersonId"`
	ContactID       int64   `json:"ContactId"`
	GroupID         int64   `json:"GroupId"`
	RoleID          int64   `json:"RoleId"`
	SecondaryGroups []int64 `json:"SecondaryGroups"`
	FullName        string  `json:"FullName"`
	EMailAddress    string  `json:"EMailAddress"`
}

// FetchPrincipal reads v1/User/currentPrincipal from the tenant REST API.
func FetchPrincipal(ctx context.Context, httpClient *http.Client, baseURL, accessToken string) (*Principal, error) {
	u, err := TargetURL(baseURL, DefaultAPIVersion, "/User/currentPrincipal", "")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create principal request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("principal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("principal request returned status %d", resp.StatusCode)
	}

	var p Principal
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode principal: %w", err)
	}
	return &p, nil
}
