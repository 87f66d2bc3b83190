package checks

import (
	"fmt"
	"time"

	"plumerun/internal/lint"
)

const maxReasonableSettle = 2 * time.Minute

type ServiceSettleCheck struct{}

func (c *ServiceSettleCheck) ID() string {
	return "service-settle"
}

func (c *ServiceSettleCheck) Title() string {
	return "Service Settle Delays Are Sane"
}

func (c *ServiceSettleCheck) Description() string {
	return "Verifies that every service has a positive settle delay short enough not to dominate run time."
}

func (c *ServiceSettleCheck) Evaluate(in lint.Input) (lint.Result, error) {
	for _, svc := range in.Manifest.Services {
		settle := svc.Settle.Std()
		if settle <= 0 {
			return lint.Fail(c.ID(), fmt.Sprintf("service %s has no settle delay; dependent steps may race its startup", svc.Name)), nil
		}
		if settle > maxReasonableSettle {
			return lint.Fail(c.ID(), fmt.Sprintf("service %s settles for %s; that stalls every run", svc.Name, settle)), nil
		}
	}
	return lint.Pass(c.ID(), ""), nil
}

func init() {
	lint.Register(&ServiceSettleCheck{})
}
