package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"esi-knife/internal/knife/models"
	"esi-knife/pkg/evegateway"
)

// CharacterInfo is the identity behind an access token, per /verify/.
type CharacterInfo struct {
	ID     int64
	Name   string
	Scopes models.StringSet
}

// Verify resolves an access token to its character and granted scopes.
// On failure the raw upstream reply comes back for the failure document.
func Verify(ctx context.Context, client *evegateway.Client, token string) (*CharacterInfo, any) {
	resp := client.Fetch(ctx, evegateway.Request{
		URL:   client.BaseURL() + "/verify/",
		Token: token,
	})

	body, ok := resp.Data.(map[string]any)
	if !ok {
		return nil, resp.Data
	}

	id, ok := asInt(body["CharacterID"])
	granted, _ := body["Scopes"].(string)
	if !ok || id == 0 || granted == "" {
		return nil, resp.Data
	}

	name, _ := body["CharacterName"].(string)

	scopes := models.StringSet{}
	for _, scope := range strings.Fields(granted) {
		scopes[scope] = struct{}{}
	}

	return &CharacterInfo{ID: id, Name: name, Scopes: scopes}, nil
}

// FetchRoles reads the character's corporation roles. On failure the raw
// upstream reply comes back for the failure document.
func FetchRoles(ctx context.Context, client *evegateway.Client, token string, characterID int64) (models.StringSet, any) {
	resp := client.Fetch(ctx, evegateway.Request{
		URL:   fmt.Sprintf("%s/latest/characters/%d/roles/", client.BaseURL(), characterID),
		Token: token,
	})

	body, ok := resp.Data.(map[string]any)
	if !ok {
		return nil, resp.Data
	}

	roles := models.StringSet{}
	for _, role := range toStrings(body["roles"]) {
		roles[role] = struct{}{}
	}
	return roles, nil
}

// FetchPublicInfo reads the character's public record. On failure the raw
// upstream reply comes back for the failure document.
func FetchPublicInfo(ctx context.Context, client *evegateway.Client, characterID int64) (map[string]any, any) {
	resp := client.Fetch(ctx, evegateway.Request{
		URL: fmt.Sprintf("%s/latest/characters/%d/", client.BaseURL(), characterID),
	})

	body, ok := resp.Data.(map[string]any)
	if !ok {
		return nil, resp.Data
	}
	return body, nil
}

// ExecuteRun performs one complete harvest for a verified token: expand
// the fan-out pools, plan the URL set, fetch everything and annotate the
// results with display names. Individual fetch failures stay in the
// document as error markers. Shared by the web supervisor and the CLI.
func ExecuteRun(ctx context.Context, client *evegateway.Client, specs *evegateway.SpecCache,
	token string, char *CharacterInfo, roles models.StringSet, public map[string]any) models.ResultMap {

	knownParams := map[string]any{"character_id": char.ID}
	table := models.InitialPools()

	corpID, _ := asInt(public["corporation_id"])
	if corpID > models.NPCCorpMax {
		knownParams["corporation_id"] = public["corporation_id"]
	} else {
		// NPC corp: members cannot hold roles, skip the corp fan-out
		delete(table, "corporation_id")
	}
	if allianceID, ok := asInt(public["alliance_id"]); ok && allianceID > 0 {
		knownParams["alliance_id"] = public["alliance_id"]
	}

	spec := specs.GetSpec(ctx)

	pools, results := ExpandParams(ctx, client, token, char.Scopes, roles, spec, knownParams, table)

	urls := BuildURLs(client.BaseURL(), char.Scopes, roles, spec, knownParams, pools)

	Harvest(ctx, client, token, urls, results)

	names := ResolveNames(ctx, client, CollectIDs(results))
	return AnnotateResults(results, names)
}

// Supervisor claims new runs from the state store and drives them to
// completion in the background.
type Supervisor struct {
	repo   *Repository
	client *evegateway.Client
	specs  *evegateway.SpecCache

	wg sync.WaitGroup
}

func NewSupervisor(repo *Repository, client *evegateway.Client, specs *evegateway.SpecCache) *Supervisor {
	return &Supervisor{repo: repo, client: client, specs: specs}
}

// Startup clears pending and processing markers left behind by a previous
// process. Interrupted runs are not resumable; their tokens simply become
// unknown.
func (s *Supervisor) Startup(ctx context.Context) error {
	if err := s.repo.ClearMarkers(ctx, models.KeyPending); err != nil {
		return err
	}
	return s.repo.ClearMarkers(ctx, models.KeyProcessing)
}

// ProcessNew claims every new run marker, verifies its token and roles,
// and spawns a harvest for each run that survives. Called from the
// background scheduler.
func (s *Supervisor) ProcessNew(ctx context.Context) {
	tokens, err := s.repo.ListTokens(ctx, models.KeyNew)
	if err != nil {
		slog.Error("failed to list new runs", "error", err)
		return
	}

	for _, state := range tokens {
		accessToken, err := s.repo.TakeNewRun(ctx, state)
		if err != nil {
			// another instance claimed it, or no token was stored
			continue
		}

		char, failure := Verify(ctx, s.client, accessToken)
		if failure != nil {
			slog.Warn("run failed verification", "state", state)
			s.finishFailed(ctx, state, models.ResultMap{"auth failure": failure})
			continue
		}

		roles, failure := FetchRoles(ctx, s.client, accessToken, char.ID)
		if failure != nil {
			slog.Warn("run failed role lookup", "state", state, "character", char.Name)
			s.finishFailed(ctx, state, models.ResultMap{"roles failure": failure})
			continue
		}

		if err := s.repo.SetProcessing(ctx, state, char.ID); err != nil {
			slog.Error("failed to mark run processing", "state", state, "error", err)
			continue
		}

		s.wg.Add(1)
		go s.run(ctx, state, accessToken, char, roles)
	}
}

// finishFailed stores a failure document and drops the pending marker, so
// the caller sees a completed run explaining what went wrong.
func (s *Supervisor) finishFailed(ctx context.Context, state string, doc models.ResultMap) {
	if err := s.repo.WriteDocument(ctx, state, doc); err != nil {
		slog.Error("failed to store failure document", "state", state, "error", err)
	}
	if err := s.repo.ClearPending(ctx, state); err != nil {
		slog.Error("failed to clear pending marker", "state", state, "error", err)
	}
}

func (s *Supervisor) run(ctx context.Context, state, accessToken string, char *CharacterInfo, roles models.StringSet) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("run crashed", "state", state, "panic", r, "stack", string(debug.Stack()))
			if err := s.repo.FailRun(ctx, state); err != nil {
				slog.Error("failed to drop crashed run", "state", state, "error", err)
			}
		}
	}()

	started := time.Now()
	slog.Info("starting run", "state", state, "character", char.Name)

	public, failure := FetchPublicInfo(ctx, s.client, char.ID)
	if failure != nil {
		slog.Warn("run failed public lookup", "state", state, "character", char.Name)
		if err := s.repo.WriteDocument(ctx, state, models.ResultMap{"public info failure": failure}); err != nil {
			slog.Error("failed to store failure document", "state", state, "error", err)
		}
		return
	}

	results := ExecuteRun(ctx, s.client, s.specs, accessToken, char, roles, public)

	if err := s.repo.WriteDocument(ctx, state, results); err != nil {
		// the run is lost; the processing marker ages out on its own
		slog.Error("failed to store run results", "state", state, "error", err)
		return
	}
	if err := s.repo.IncrementAlltime(ctx); err != nil {
		slog.Warn("failed to bump alltime counter", "error", err)
	}

	slog.Info("completed run",
		"state", state,
		"character", char.Name,
		"urls", len(results),
		"duration", time.Since(started).String(),
	)
}

// Wait blocks until every in-flight run finishes. Used during shutdown.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
