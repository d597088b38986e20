package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/internal/model"
	"WaBroadcast/internal/model/dto"
	"WaBroadcast/internal/repository"
	pkgerrors "WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/utils"
)

// SeedService 导入活动、模板、自定义字段和线索，供运维 CLI 使用
type SeedService struct {
	store      repository.Store
	broadcasts *BroadcastService
	validate   *validator.Validate
}

func NewSeedService(store repository.Store, broadcasts *BroadcastService) *SeedService {
	return &SeedService{
		store:      store,
		broadcasts: broadcasts,
		validate:   validator.New(),
	}
}

// Seed 先完成全部校验再写入，线索号码规范化为 E.164
func (s *SeedService) Seed(ctx context.Context, req *dto.SeedRequest) (*dto.SeedResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.InvalidRequest, err.Error())
	}

	leads, err := buildLeads(req)
	if err != nil {
		return nil, err
	}

	campaign := &model.Campaign{
		AgentID: req.AgentID,
		Name:    req.Campaign.Name,
		Status:  model.CampaignStatusDraft,
	}
	if err := s.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	result := &dto.SeedResult{CampaignID: strconv.FormatInt(campaign.ID, 10)}

	if len(req.Intakes) > 0 {
		intakes := make([]*model.LeadCustomFieldIntake, 0, len(req.Intakes))
		for _, in := range req.Intakes {
			intakes = append(intakes, &model.LeadCustomFieldIntake{
				CampaignID: campaign.ID,
				Key:        in.Key,
				Label:      in.Label,
				Required:   in.Required,
			})
		}
		if err := s.store.CreateCustomFieldIntakes(ctx, intakes); err != nil {
			return nil, fmt.Errorf("create intakes: %w", err)
		}
	}

	patch := model.SettingsPatch{}
	if req.Template != nil {
		tpl := &model.Template{
			AgentID:   req.AgentID,
			Name:      req.Template.Name,
			Language:  req.Template.Language,
			Body:      req.Template.Body,
			MediaURL:  req.Template.MediaURL,
			MediaType: req.Template.MediaType,
		}
		if tpl.Language == "" {
			tpl.Language = "en"
		}
		if err := s.store.CreateTemplate(ctx, tpl); err != nil {
			return nil, fmt.Errorf("create template: %w", err)
		}
		result.TemplateID = strconv.FormatInt(tpl.ID, 10)
		patch.SelectedTemplateID = model.Some(tpl.ID)
	}
	if req.Settings != nil {
		patch.MessageGapSeconds = req.Settings.MessageGapSeconds
		if req.Settings.StartAt != nil {
			patch.StartAt = model.Some(req.Settings.StartAt.UTC())
		}
	}
	if !patch.Empty() {
		snap, err := s.broadcasts.UpdateSettings(ctx, req.AgentID, campaign.ID, patch)
		if err != nil {
			return nil, fmt.Errorf("apply settings: %w", err)
		}
		result.BroadcastID = snap.ID
	}

	for _, l := range leads {
		l.CampaignID = campaign.ID
	}
	if len(leads) > 0 {
		if err := s.store.CreateLeads(ctx, leads); err != nil {
			return nil, fmt.Errorf("create leads: %w", err)
		}
	}
	result.Leads = len(leads)

	logger.Logger.Info("Campaign seeded",
		zap.String("agent_id", req.AgentID),
		zap.Int64("campaign_id", campaign.ID),
		zap.Int("leads", len(leads)),
	)
	return result, nil
}

func buildLeads(req *dto.SeedRequest) ([]*model.Lead, error) {
	known := make(map[string]bool, len(req.Intakes))
	var required []string
	for _, in := range req.Intakes {
		if known[in.Key] {
			return nil, pkgerrors.Wrap(pkgerrors.InvalidRequest, "duplicate intake key "+in.Key)
		}
		known[in.Key] = true
		if in.Required {
			required = append(required, in.Key)
		}
	}

	maxAttempts := config.Cfg.DispatchDefaultMaxAttempt
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts
	}

	leads := make([]*model.Lead, 0, len(req.Leads))
	seen := make(map[string]int, len(req.Leads))
	for i, in := range req.Leads {
		phone, err := utils.NormalizePhone(in.PhoneNumber, config.Cfg.DefaultPhoneRegion)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.InvalidLead, fmt.Sprintf("leads[%d]: invalid phone number", i))
		}
		if prev, dup := seen[phone]; dup {
			return nil, pkgerrors.Wrap(pkgerrors.InvalidLead, fmt.Sprintf("leads[%d]: duplicate of leads[%d]", i, prev))
		}
		seen[phone] = i

		var unknown []string
		for k := range in.CustomFields {
			if !known[k] {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return nil, pkgerrors.Wrap(pkgerrors.InvalidLead,
				fmt.Sprintf("leads[%d]: unknown custom fields: %s", i, strings.Join(unknown, ", ")))
		}
		for _, k := range required {
			if strings.TrimSpace(in.CustomFields[k]) == "" {
				return nil, pkgerrors.Wrap(pkgerrors.InvalidLead, fmt.Sprintf("leads[%d]: missing required field %s", i, k))
			}
		}

		attempts := in.MaxAttempts
		if attempts == 0 {
			attempts = maxAttempts
		}
		leads = append(leads, &model.Lead{
			PhoneNumber:  phone,
			FirstName:    in.FirstName,
			TimeZone:     in.TimeZone,
			Status:       model.LeadStatusPending,
			MaxAttempts:  attempts,
			CustomFields: model.StringMap(in.CustomFields),
		})
	}
	return leads, nil
}
