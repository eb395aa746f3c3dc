package provenance

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/csds-network/provenance/pkg/store"
)

// BroadcastToNetwork fans a report out across the platform: every
// organization in the owner's sphere plus every consumer organization
// receives an off-chain, unaccepted disclosure link. Only members of
// oversight organizations may broadcast. Returns the number of new
// links created; organizations already linked are skipped.
func (e *Engine) BroadcastToNetwork(ctx context.Context, userID, reportID string) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "provenance.BroadcastToNetwork")
	defer span.End()
	span.SetAttributes(attribute.String("report_id", reportID))

	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return 0, err
	}
	if _, err := e.requireOversight(ctx, userID); err != nil {
		return 0, err
	}

	targets, err := e.broadcastTargets(ctx, report)
	if err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		return 0, nil
	}

	now := e.now()
	created, err := e.store.CreateLinksBulk(ctx, report.ID, report.OrganizationID, targets, false, now)
	if err != nil {
		return 0, err
	}

	if created > 0 {
		if err := e.store.SetBroadcasted(ctx, report.ID, true); err != nil {
			return created, err
		}
	}

	if e.notifier != nil {
		if err := e.notifier.ReportBroadcasted(ctx, report.ID, created, now); err != nil {
			e.log.Warn("broker notification failed", "report_id", report.ID, "error", err)
		}
	}

	e.log.Info("report broadcasted", "report_id", report.ID, "organizations", created)
	return created, nil
}

// broadcastTargets computes the fan-out set: sphere peers of the owning
// organization plus every consumer organization, minus the owner. The
// broadcasting organization is not excluded; if it sits in the owner's
// sphere it receives a link like any other peer.
func (e *Engine) broadcastTargets(ctx context.Context, report *store.Report) ([]string, error) {
	owner, err := e.store.GetOrganization(ctx, report.OrganizationID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{
		report.OrganizationID: true,
	}
	var targets []string
	add := func(orgs []store.Organization) {
		for _, org := range orgs {
			if seen[org.ID] {
				continue
			}
			seen[org.ID] = true
			targets = append(targets, org.ID)
		}
	}

	if owner.Sphere != nil {
		peers, err := e.store.OrganizationsBySphere(ctx, *owner.Sphere, report.OrganizationID)
		if err != nil {
			return nil, err
		}
		add(peers)
	}

	consumers, err := e.store.OrganizationsWithRole(ctx, store.RoleDataConsumer, report.OrganizationID)
	if err != nil {
		return nil, err
	}
	add(consumers)

	sort.Strings(targets)
	return targets, nil
}

// RemoveFromNetwork withdraws a broadcast: every link whose target is
// not an oversight organization is removed, and the broadcast flag is
// cleared when any were. Returns the number of links removed.
func (e *Engine) RemoveFromNetwork(ctx context.Context, userID, reportID string) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "provenance.RemoveFromNetwork")
	defer span.End()
	span.SetAttributes(attribute.String("report_id", reportID))

	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return 0, err
	}
	if _, err := e.requireOversight(ctx, userID); err != nil {
		return 0, err
	}

	removed, err := e.store.DeleteNonOversightLinks(ctx, report.ID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := e.store.SetBroadcasted(ctx, report.ID, false); err != nil {
			return removed, err
		}
	}

	e.log.Info("report removed from network", "report_id", report.ID, "links_removed", removed)
	return removed, nil
}

// requireOversight loads the acting user and checks that their
// organization holds the oversight role.
func (e *Engine) requireOversight(ctx context.Context, userID string) (*store.User, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ok, err := e.store.IsOversightOrg(ctx, user.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %s is not part of an oversight organization", ErrForbidden, userID)
	}
	return user, nil
}
