// Open Tree of Life client: TNRS name matching and taxonomy lineage lookup.

package taxonomy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yumyai/process-otu-data/logger"
	"github.com/yumyai/process-otu-data/pkg/model"
)

const (
	DEFAULT_BASE_URL = "https://api.opentreeoflife.org"

	matchNamesPath = "/v3/tnrs/match_names"
	taxonInfoPath  = "/v3/taxonomy/taxon_info"

	// Cap on how much of an error body ends up in a ServiceError.
	maxErrorBody = 512
)

// Lookup is the capability the resolver needs: one name in, one lineage out.
// ErrNoMatch / ErrTaxonNotFound mean the service answered "unknown"; any other
// error is a failed call.
type Lookup interface {
	Lookup(ctx context.Context, name string) (model.Lineage, error)
}

// Taxon is one node of the Open Tree taxonomy.
type Taxon struct {
	OttID        int64    `json:"ott_id"`
	Name         string   `json:"name"`
	Rank         string   `json:"rank"`
	UniqueName   string   `json:"unique_name"`
	Flags        []string `json:"flags"`
	IsSuppressed bool     `json:"is_suppressed"`
	TaxSources   []string `json:"tax_sources"`
}

// Match is one candidate returned by match_names for a queried name.
type Match struct {
	MatchedName        string  `json:"matched_name"`
	Score              float64 `json:"score"`
	IsApproximateMatch bool    `json:"is_approximate_match"`
	IsSynonym          bool    `json:"is_synonym"`
	Taxon              Taxon   `json:"taxon"`
}

// TaxonInfo is a taxon together with its ancestor lineage.
type TaxonInfo struct {
	Taxon
	Lineage []Taxon `json:"lineage"`
}

type matchNamesRequest struct {
	Names                 []string `json:"names"`
	DoApproximateMatching bool     `json:"do_approximate_matching"`
	ContextName           string   `json:"context_name,omitempty"`
}

type matchNamesResponse struct {
	Results []struct {
		Name    string  `json:"name"`
		Matches []Match `json:"matches"`
	} `json:"results"`
	UnmatchedNames []string `json:"unmatched_names"`
}

type taxonInfoRequest struct {
	OttID          int64 `json:"ott_id"`
	IncludeLineage bool  `json:"include_lineage"`
}

type ClientOptions struct {
	BaseURL             string
	Timeout             time.Duration
	RequestsPerSecond   float64 // 0 disables throttling
	ApproximateMatching bool
	ContextName         string
	Transport           http.RoundTripper // nil uses http.DefaultTransport
}

// Client talks to the Open Tree of Life v3 API.
type Client struct {
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	approximate bool
	contextName string
}

// NewClient returns a client for the Open Tree API at opts.BaseURL.
func NewClient(opts ClientOptions) *Client {

	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DEFAULT_BASE_URL
	}

	next := opts.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: NewLoggingTransport(next, logger.L()),
		},
		limiter:     rate.NewLimiter(limit, 1),
		approximate: opts.ApproximateMatching,
		contextName: opts.ContextName,
	}
}

// Lookup matches name against TNRS, picks one match (see ChooseMatch) and
// fetches that taxon's lineage.
func (c *Client) Lookup(ctx context.Context, name string) (model.Lineage, error) {

	matches, err := c.MatchNames(ctx, name)
	if err != nil {
		return model.Lineage{}, err
	}

	best, ok := ChooseMatch(matches)
	if !ok {
		return model.Lineage{}, fmt.Errorf("%w: %q", ErrNoMatch, name)
	}

	info, err := c.TaxonInfo(ctx, best.Taxon.OttID)
	if err != nil {
		return model.Lineage{}, err
	}

	lineage := BuildLineage(info)
	lineage.MatchedName = best.MatchedName
	return lineage, nil
}

// MatchNames returns the TNRS candidates for a single name, in service order.
func (c *Client) MatchNames(ctx context.Context, name string) ([]Match, error) {

	req := matchNamesRequest{
		Names:                 []string{name},
		DoApproximateMatching: c.approximate,
		ContextName:           c.contextName,
	}

	var res matchNamesResponse
	if err := c.post(ctx, matchNamesPath, req, &res); err != nil {
		return nil, err
	}

	if len(res.Results) == 0 {
		return nil, nil
	}
	return res.Results[0].Matches, nil
}

// TaxonInfo fetches one taxon with its lineage. A 400 means the service does
// not know the id.
func (c *Client) TaxonInfo(ctx context.Context, ottID int64) (*TaxonInfo, error) {

	var info TaxonInfo
	err := c.post(ctx, taxonInfoPath, taxonInfoRequest{OttID: ottID, IncludeLineage: true}, &info)
	if err != nil {
		var se *ServiceError
		if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: ott%d: %s", ErrTaxonNotFound, ottID, se.Body)
		}
		return nil, err
	}
	return &info, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ServiceError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: malformed response: %w", path, err)
	}
	return nil
}

// BuildLineage fills the canonical ranks from a taxon and its ancestors. The
// taxon's own rank is filled first; for each rank the closest ancestor wins.
func BuildLineage(info *TaxonInfo) model.Lineage {

	lineage := model.UnknownLineage("")
	lineage.OttID = info.OttID
	lineage.Resolved = true

	set := func(t Taxon) {
		i := model.RankIndex(t.Rank)
		if i >= 0 && lineage.Names[i] == model.UNKNOWN_TAXON && t.Name != "" {
			lineage.Names[i] = t.Name
		}
	}

	set(info.Taxon)
	for _, ancestor := range info.Lineage {
		set(ancestor)
	}

	// Species without a genus ancestor: take the genus from the binomial.
	genus := model.RankIndex(string(model.RankGenus))
	if info.Rank == string(model.RankSpecies) && lineage.Name(model.RankGenus) == model.UNKNOWN_TAXON {
		if fields := strings.Fields(info.Name); len(fields) > 1 {
			lineage.Names[genus] = fields[0]
		}
	}

	return lineage
}
