package db

import (
	"context"
	"encoding/base64"

	"sdcampaign/campaign"
	"sdcampaign/imagegen/sd"
)

type staticResolver struct {
	spec campaign.CategorySpec
}

func (r staticResolver) Resolve(name string) campaign.CategorySpec {
	return r.spec
}

type okExecutor struct{}

func (okExecutor) Execute(ctx context.Context, req sd.GenerationRequest) campaign.GenerationResult {
	return campaign.GenerationResult{
		Images:   []string{base64.StdEncoding.EncodeToString([]byte("jpeg"))},
		Attempts: 1,
	}
}
