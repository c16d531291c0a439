package proxmox

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the Proxmox REST API with ticket authentication. It owns
// the auth cookie and CSRF token; callers never see them.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// Migration submission uses a client without a timeout: the hypervisor
	// answers with a task id quickly, but a slow cluster must not have its
	// migrate POST cut off mid-flight.
	SubmitClient *http.Client

	username  string
	password  string
	ticket    string
	csrfToken string
}

// NewClient creates a client for the given API base URL and credentials.
// TLS verification is skipped: Proxmox clusters ship self-signed certs.
func NewClient(baseURL, username, password string) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		SubmitClient: &http.Client{Transport: transport},
		username:     username,
		password:     password,
	}
}

// Authenticate obtains a ticket and CSRF token from the ticket endpoint.
func (c *Client) Authenticate() error {
	if c.username == "" || c.password == "" {
		return fmt.Errorf("username and password required for authentication")
	}

	data := url.Values{}
	data.Set("username", c.username)
	data.Set("password", c.password)

	resp, err := c.HTTPClient.PostForm(c.BaseURL+"/api2/json/access/ticket", data)
	if err != nil {
		return fmt.Errorf("authentication request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authentication failed: status %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Ticket              string `json:"ticket"`
			CSRFPreventionToken string `json:"CSRFPreventionToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}

	c.ticket = result.Data.Ticket
	c.csrfToken = result.Data.CSRFPreventionToken
	return nil
}

// doRequest performs an authenticated request. Mutating requests carry the
// CSRF token; form may be nil for GETs.
func (c *Client) doRequest(httpClient *http.Client, method, path string, form url.Values) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.ticket != "" {
		req.Header.Set("Cookie", "PVEAuthCookie="+c.ticket)
		if method != http.MethodGet {
			req.Header.Set("CSRFPreventionToken", c.csrfToken)
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("unauthorized: check credentials or ticket expiry")
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// getJSON performs a GET and unmarshals the "data" payload into out.
func (c *Client) getJSON(path string, out any) error {
	resp, err := c.doRequest(c.HTTPClient, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	data, err := json.Marshal(result.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

// GetClusterStatus retrieves /cluster/status.
func (c *Client) GetClusterStatus() ([]ClusterStatusEntry, error) {
	var entries []ClusterStatusEntry
	if err := c.getJSON("/api2/json/cluster/status", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetClusterResources retrieves the full resource inventory.
func (c *Client) GetClusterResources() ([]ClusterResource, error) {
	var resources []ClusterResource
	if err := c.getJSON("/api2/json/cluster/resources", &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// GetHAStatus retrieves the HA manager view: master node and quorum.
func (c *Client) GetHAStatus() (*HAManagerStatus, error) {
	var status HAManagerStatus
	if err := c.getJSON("/api2/json/cluster/ha/status/manager_status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetRRDData retrieves a guest's time series for the given timeframe.
func (c *Client) GetRRDData(node string, kind GuestKind, vmid int, timeframe string) ([]RRDPoint, error) {
	path := fmt.Sprintf("/api2/json/nodes/%s/%s/%d/rrddata?timeframe=%s", node, kind, vmid, timeframe)
	var points []RRDPoint
	if err := c.getJSON(path, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// GetMigrateCheck runs the migration preflight for a full VM.
func (c *Client) GetMigrateCheck(node string, vmid int) (*MigrateCheck, error) {
	path := fmt.Sprintf("/api2/json/nodes/%s/qemu/%d/migrate", node, vmid)
	var check MigrateCheck
	if err := c.getJSON(path, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// MigrateGuest submits a migration and returns the hypervisor task id.
// Full VMs migrate online; containers migrate with restart.
func (c *Client) MigrateGuest(node string, kind GuestKind, vmid int, target string) (string, error) {
	form := url.Values{}
	form.Set("target", target)
	switch kind {
	case KindContainer:
		form.Set("restart", "1")
	default:
		form.Set("online", "1")
	}

	path := fmt.Sprintf("/api2/json/nodes/%s/%s/%d/migrate", node, kind, vmid)
	resp, err := c.doRequest(c.SubmitClient, http.MethodPost, path, form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode migrate response: %w", err)
	}
	return result.Data, nil
}

// ListGuests retrieves the guests of one kind present on a node.
func (c *Client) ListGuests(node string, kind GuestKind) ([]GuestListEntry, error) {
	path := fmt.Sprintf("/api2/json/nodes/%s/%s", node, kind)
	var guests []GuestListEntry
	if err := c.getJSON(path, &guests); err != nil {
		return nil, err
	}
	return guests, nil
}

// ResumeGuest resumes a full VM that was paused by an online migration.
func (c *Client) ResumeGuest(node string, vmid int) error {
	path := fmt.Sprintf("/api2/json/nodes/%s/qemu/%d/status/resume", node, vmid)
	resp, err := c.doRequest(c.HTTPClient, http.MethodPost, path, url.Values{})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
