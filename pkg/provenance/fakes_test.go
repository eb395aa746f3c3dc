package provenance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/csds-network/provenance/pkg/store"
)

func linkKey(reportID, sourceOrgID, targetOrgID string) string {
	return sourceOrgID + "|" + targetOrgID + "|" + reportID
}

type fakeStore struct {
	reports  map[string]*store.Report
	orgs     map[string]*store.Organization
	users    map[string]*store.User
	members  map[string]map[string]bool
	orgRoles map[string]store.Role
	links    map[string]*store.DisclosureLink
	counters map[string]uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reports:  map[string]*store.Report{},
		orgs:     map[string]*store.Organization{},
		users:    map[string]*store.User{},
		members:  map[string]map[string]bool{},
		orgRoles: map[string]store.Role{},
		links:    map[string]*store.DisclosureLink{},
		counters: map[string]uint64{},
	}
}

func (f *fakeStore) GetReport(_ context.Context, id string) (*store.Report, error) {
	r, ok := f.reports[id]
	if !ok {
		return nil, fmt.Errorf("%w: report %s", store.ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) SetReportCollection(_ context.Context, reportID, address, envelope string) error {
	r, ok := f.reports[reportID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, reportID)
	}
	r.CollectionAddress = &address
	r.CollectionKeyEnvelope = &envelope
	return nil
}

func (f *fakeStore) MarkSubmitted(_ context.Context, reportID, anchorHash string, at time.Time) error {
	r, ok := f.reports[reportID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, reportID)
	}
	r.AnchorHash = &anchorHash
	r.SubmittedAt = &at
	r.Submitted = true
	return nil
}

func (f *fakeStore) SetBroadcasted(_ context.Context, reportID string, broadcasted bool) error {
	r, ok := f.reports[reportID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, reportID)
	}
	r.Broadcasted = broadcasted
	return nil
}

func (f *fakeStore) GetOrganization(_ context.Context, id string) (*store.Organization, error) {
	o, ok := f.orgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: organization %s", store.ErrNotFound, id)
	}
	return o, nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, id)
	}
	return u, nil
}

func (f *fakeStore) IsMember(_ context.Context, userID, orgID string) (bool, error) {
	return f.members[userID][orgID], nil
}

func (f *fakeStore) IsOversightOrg(_ context.Context, orgID string) (bool, error) {
	return f.orgRoles[orgID] == store.RoleGovBody, nil
}

func (f *fakeStore) OrganizationsBySphere(_ context.Context, sphere, excludeOrgID string) ([]store.Organization, error) {
	var out []store.Organization
	for _, o := range f.orgs {
		if o.ID == excludeOrgID || o.Sphere == nil || *o.Sphere != sphere {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) OrganizationsWithRole(_ context.Context, role store.Role, excludeOrgID string) ([]store.Organization, error) {
	var out []store.Organization
	for id, r := range f.orgRoles {
		if r != role || id == excludeOrgID {
			continue
		}
		out = append(out, *f.orgs[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetLink(_ context.Context, reportID, sourceOrgID, targetOrgID string) (*store.DisclosureLink, error) {
	l, ok := f.links[linkKey(reportID, sourceOrgID, targetOrgID)]
	if !ok {
		return nil, fmt.Errorf("%w: link", store.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStore) FindLinkByTarget(_ context.Context, reportID, targetOrgID string) (*store.DisclosureLink, error) {
	for _, l := range f.links {
		if l.ReportID == reportID && l.TargetOrgID == targetOrgID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: link", store.ErrNotFound)
}

func (f *fakeStore) NextShareIndex(_ context.Context, reportID string) (uint64, error) {
	if _, ok := f.reports[reportID]; !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrNotFound, reportID)
	}
	f.counters[reportID]++
	return f.counters[reportID], nil
}

func (f *fakeStore) CreateLink(_ context.Context, link *store.DisclosureLink) error {
	key := linkKey(link.ReportID, link.SourceOrgID, link.TargetOrgID)
	if _, ok := f.links[key]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateLink, key)
	}
	for _, l := range f.links {
		if l.ReportID == link.ReportID && link.ShareIndex > 0 && l.ShareIndex == link.ShareIndex {
			return fmt.Errorf("%w: share index %d", store.ErrDuplicateLink, link.ShareIndex)
		}
	}
	cp := *link
	f.links[key] = &cp
	return nil
}

func (f *fakeStore) CreateLinksBulk(_ context.Context, reportID, sourceOrgID string, targetOrgIDs []string, accepted bool, at time.Time) (int64, error) {
	var created int64
	for _, target := range targetOrgIDs {
		key := linkKey(reportID, sourceOrgID, target)
		if _, ok := f.links[key]; ok {
			continue
		}
		f.links[key] = &store.DisclosureLink{
			ReportID:      reportID,
			SourceOrgID:   sourceOrgID,
			TargetOrgID:   target,
			SharedAt:      at,
			AcceptedShare: accepted,
		}
		created++
	}
	return created, nil
}

func (f *fakeStore) AcceptLink(_ context.Context, reportID, targetOrgID string) error {
	for _, l := range f.links {
		if l.ReportID == reportID && l.TargetOrgID == targetOrgID {
			l.AcceptedShare = true
			return nil
		}
	}
	return fmt.Errorf("%w: link", store.ErrNotFound)
}

func (f *fakeStore) DeleteLink(_ context.Context, reportID, sourceOrgID, targetOrgID string) error {
	key := linkKey(reportID, sourceOrgID, targetOrgID)
	if _, ok := f.links[key]; !ok {
		return fmt.Errorf("%w: link", store.ErrNotFound)
	}
	delete(f.links, key)
	return nil
}

func (f *fakeStore) DeleteNonOversightLinks(_ context.Context, reportID string) (int64, error) {
	var removed int64
	for key, l := range f.links {
		if l.ReportID != reportID {
			continue
		}
		if f.orgRoles[l.TargetOrgID] == store.RoleGovBody {
			continue
		}
		delete(f.links, key)
		removed++
	}
	return removed, nil
}

type submission struct {
	instrs  []solana.Instruction
	signers []solana.PrivateKey
}

type fakeSubmitter struct {
	identity    solana.PrivateKey
	submissions []submission
	err         error
}

func (f *fakeSubmitter) Identity() solana.PublicKey {
	return f.identity.PublicKey()
}

func (f *fakeSubmitter) Submit(_ context.Context, instrs []solana.Instruction, signers []solana.PrivateKey) (solana.Signature, error) {
	if f.err != nil {
		return solana.Signature{}, f.err
	}
	f.submissions = append(f.submissions, submission{instrs: instrs, signers: signers})
	var sig solana.Signature
	sig[0] = byte(len(f.submissions))
	return sig, nil
}

type fakePinner struct {
	pinned [][]byte
	err    error
}

func (f *fakePinner) PinJSON(_ context.Context, content []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.pinned = append(f.pinned, content)
	return fmt.Sprintf("https://cid%d.ipfs.dweb.link/", len(f.pinned)), nil
}

type fakeLocker struct {
	acquired int
	released int
	err      error
}

type fakeLease struct {
	locker *fakeLocker
}

func (f *fakeLocker) Acquire(_ context.Context, _ string) (Lease, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return &fakeLease{locker: f}, nil
}

func (l *fakeLease) Release(_ context.Context) error {
	l.locker.released++
	return nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) ReportAnchored(_ context.Context, reportID, _, _ string, _ time.Time) error {
	f.events = append(f.events, "anchored:"+reportID)
	return nil
}

func (f *fakeNotifier) ReportShared(_ context.Context, reportID, targetOrgID, _ string, _ time.Time) error {
	f.events = append(f.events, "shared:"+reportID+":"+targetOrgID)
	return nil
}

func (f *fakeNotifier) ShareRevoked(_ context.Context, reportID, targetOrgID string, _ time.Time) error {
	f.events = append(f.events, "revoked:"+reportID+":"+targetOrgID)
	return nil
}

func (f *fakeNotifier) ReportBroadcasted(_ context.Context, reportID string, _ int64, _ time.Time) error {
	f.events = append(f.events, "broadcasted:"+reportID)
	return nil
}
