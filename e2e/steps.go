package e2e

import (
	"github.com/cucumber/godog"

	"facturador/e2e/steps/billing"
	"facturador/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (background, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register invoice lifecycle steps
	billing.RegisterSteps(ctx, tc)
}
