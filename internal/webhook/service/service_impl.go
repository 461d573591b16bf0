package service

import (
	"context"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/smallbiznis/voxbill/internal/orgcontext"
	telephonydomain "github.com/smallbiznis/voxbill/internal/telephony/domain"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"github.com/smallbiznis/voxbill/internal/webhook/signing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	detailLogLimit           = 50
	defaultSuccessRateWindow = 100
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       webhookdomain.Repository
	Dispatcher webhookdomain.Dispatcher
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	repo       webhookdomain.Repository
	dispatcher webhookdomain.Dispatcher
	window     int
}

func New(p Params) webhookdomain.Service {
	window := p.Config.Webhook.SuccessRateWindow
	if window <= 0 {
		window = defaultSuccessRateWindow
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("webhook.registry"),

		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		dispatcher: p.Dispatcher,
		window:     window,
	}
}

func (s *Service) Create(ctx context.Context, req webhookdomain.CreateRequest) (*webhookdomain.SecretResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, webhookdomain.ErrInvalidName
	}
	endpointURL, err := normalizeURL(req.URL)
	if err != nil {
		return nil, err
	}
	events, err := normalizeEvents(req.Events)
	if err != nil {
		return nil, err
	}
	secret, err := signing.NewSecret()
	if err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := s.clock.Now()
	endpoint := &webhookdomain.Endpoint{
		ID:             s.genID.Generate(),
		OrganizationID: orgID,
		Name:           name,
		URL:            endpointURL,
		Events:         events,
		Secret:         secret,
		Enabled:        enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, endpoint); err != nil {
		return nil, err
	}

	s.log.Info("webhook endpoint created",
		zap.String("org_id", orgID.String()),
		zap.String("endpoint_id", endpoint.ID.String()),
	)
	return &webhookdomain.SecretResponse{EndpointResponse: toResponse(endpoint), Secret: secret}, nil
}

func (s *Service) List(ctx context.Context) ([]webhookdomain.EndpointResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.List(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	resp := make([]webhookdomain.EndpointResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*webhookdomain.DetailResponse, error) {
	endpoint, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	logs, err := s.repo.ListLogs(ctx, s.db, endpoint.OrganizationID, endpoint.ID, detailLogLimit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []webhookdomain.DeliveryLog{}
	}
	stats, err := s.repo.Stats(ctx, s.db, endpoint.ID, s.window)
	if err != nil {
		return nil, err
	}

	return &webhookdomain.DetailResponse{
		EndpointResponse: toResponse(endpoint),
		DeliveryLogs:     logs,
		DeliveryCount:    stats.Total,
		SuccessRate:      stats.SuccessRate(),
	}, nil
}

func (s *Service) Update(ctx context.Context, id string, req webhookdomain.UpdateRequest) (*webhookdomain.SecretResponse, error) {
	var resp *webhookdomain.SecretResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		endpoint, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return webhookdomain.ErrInvalidName
			}
			endpoint.Name = name
		}
		if req.URL != nil {
			endpointURL, err := normalizeURL(*req.URL)
			if err != nil {
				return err
			}
			endpoint.URL = endpointURL
		}
		if req.Events != nil {
			events, err := normalizeEvents(*req.Events)
			if err != nil {
				return err
			}
			endpoint.Events = events
		}
		if req.Enabled != nil {
			endpoint.Enabled = *req.Enabled
		}

		endpoint.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, endpoint); err != nil {
			return err
		}

		resp = &webhookdomain.SecretResponse{}
		if req.RegenerateSecret {
			secret, err := s.replaceSecret(ctx, tx, endpoint)
			if err != nil {
				return err
			}
			resp.Secret = secret
		}
		resp.EndpointResponse = toResponse(endpoint)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) RotateSecret(ctx context.Context, id string) (*webhookdomain.SecretResponse, error) {
	endpoint, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	secret, err := s.replaceSecret(ctx, s.db, endpoint)
	if err != nil {
		return nil, err
	}
	return &webhookdomain.SecretResponse{EndpointResponse: toResponse(endpoint), Secret: secret}, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		endpoint, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteLogs(ctx, tx, endpoint.OrganizationID, endpoint.ID); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, tx, endpoint.OrganizationID, endpoint.ID); err != nil {
			return err
		}

		s.log.Info("webhook endpoint deleted",
			zap.String("org_id", endpoint.OrganizationID.String()),
			zap.String("endpoint_id", endpoint.ID.String()),
		)
		return nil
	})
}

func (s *Service) Test(ctx context.Context, id string) (*webhookdomain.DeliveryResult, error) {
	endpoint, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	return s.dispatcher.Dispatch(ctx, webhookdomain.DeliveryRequest{
		Endpoint: *endpoint,
		Event:    telephonydomain.KindTestPing.String(),
		Data: map[string]any{
			"message":     "This is a test webhook delivery",
			"endpoint_id": endpoint.ID.String(),
		},
	})
}

func (s *Service) ListForEvent(ctx context.Context, orgID snowflake.ID, kind string) ([]webhookdomain.Endpoint, error) {
	if orgID == 0 {
		return nil, webhookdomain.ErrInvalidOrganization
	}

	items, err := s.repo.ListEnabled(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	matched := make([]webhookdomain.Endpoint, 0, len(items))
	for _, item := range items {
		if item.Subscribes(kind) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

// load resolves id within the caller's organization. Ids owned by another
// organization are reported as not found.
func (s *Service) load(ctx context.Context, db *gorm.DB, id string) (*webhookdomain.Endpoint, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	endpointID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || endpointID == 0 {
		return nil, webhookdomain.ErrNotFound
	}

	endpoint, err := s.repo.FindByID(ctx, db, orgID, endpointID)
	if err != nil {
		return nil, err
	}
	if endpoint == nil {
		return nil, webhookdomain.ErrNotFound
	}
	return endpoint, nil
}

func (s *Service) replaceSecret(ctx context.Context, db *gorm.DB, endpoint *webhookdomain.Endpoint) (string, error) {
	secret, err := signing.NewSecret()
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	ok, err := s.repo.UpdateSecret(ctx, db, endpoint.OrganizationID, endpoint.ID, secret, now)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", webhookdomain.ErrNotFound
	}

	endpoint.Secret = secret
	endpoint.UpdatedAt = now
	s.log.Info("webhook secret rotated",
		zap.String("org_id", endpoint.OrganizationID.String()),
		zap.String("endpoint_id", endpoint.ID.String()),
	)
	return secret, nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, webhookdomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func toResponse(endpoint *webhookdomain.Endpoint) webhookdomain.EndpointResponse {
	events := []string(endpoint.Events)
	if events == nil {
		events = []string{}
	}
	return webhookdomain.EndpointResponse{
		ID:         endpoint.ID.String(),
		Name:       endpoint.Name,
		URL:        endpoint.URL,
		Events:     events,
		Enabled:    endpoint.Enabled,
		HasSecret:  endpoint.Secret != "",
		SecretHint: signing.Mask(endpoint.Secret),
		CreatedAt:  endpoint.CreatedAt,
		UpdatedAt:  endpoint.UpdatedAt,
	}
}

func normalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return "", webhookdomain.ErrInvalidURL
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", webhookdomain.ErrInvalidURL
	}
	return trimmed, nil
}

// normalizeEvents requires a non-empty subset of the subscribable kinds and drops duplicates.
func normalizeEvents(events []string) (datatypes.JSONSlice[string], error) {
	if len(events) == 0 {
		return nil, webhookdomain.ErrInvalidEvents
	}
	seen := make(map[string]struct{}, len(events))
	out := make(datatypes.JSONSlice[string], 0, len(events))
	for _, event := range events {
		kind := telephonydomain.EventKind(strings.ToLower(strings.TrimSpace(event)))
		if !kind.Subscribable() {
			return nil, webhookdomain.ErrInvalidEvents
		}
		if _, ok := seen[string(kind)]; ok {
			continue
		}
		seen[string(kind)] = struct{}{}
		out = append(out, string(kind))
	}
	return out, nil
}
