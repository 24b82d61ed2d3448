package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     affiliatedomain.Repository
	Config   *config.CommissionConfigHolder
	AuditSvc auditdomain.Service
	Hook     affiliatedomain.ReinstatementHook `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     affiliatedomain.Repository
	config   *config.CommissionConfigHolder
	auditSvc auditdomain.Service
	hook     affiliatedomain.ReinstatementHook
}

func NewService(p ServiceParam) affiliatedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("affiliate.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		config:   p.Config,
		auditSvc: p.AuditSvc,
		hook:     p.Hook,
	}
}

func (s *Service) Create(ctx context.Context, req affiliatedomain.CreateRequest) (*affiliatedomain.Affiliate, error) {
	code := strings.TrimSpace(req.Code)
	if !codePattern.MatchString(code) {
		return nil, affiliatedomain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, affiliatedomain.ErrInvalidName
	}
	status := req.Status
	if status == "" {
		status = affiliatedomain.StatusPending
	}
	if !status.Valid() {
		return nil, affiliatedomain.ErrInvalidStatus
	}

	now := s.clock.Now()
	affiliate := &affiliatedomain.Affiliate{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      name,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	maxDepth := s.config.Get().MaxDepth

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Locked before the first read so the depth check sees committed moves.
		if req.ParentID != nil || strings.TrimSpace(req.ParentCode) != "" {
			if err := s.repo.LockGenealogy(ctx, tx); err != nil {
				return err
			}
		}
		parent, err := s.resolveParent(ctx, tx, req)
		if err != nil {
			return err
		}
		if parent != nil {
			chain, err := s.chainUp(ctx, tx, parent.ID, 0)
			if err != nil {
				return err
			}
			if len(chain)+1 > maxDepth {
				return affiliatedomain.ErrDepthExceeded
			}
			affiliate.ParentID = &parent.ID
		}

		existing, err := s.repo.FindByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if existing != nil {
			return affiliatedomain.ErrCodeTaken
		}
		if err := s.repo.Insert(ctx, tx, affiliate); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return affiliatedomain.ErrCodeTaken
			}
			return err
		}
		metadata := map[string]any{
			"code":   affiliate.Code,
			"status": string(affiliate.Status),
		}
		if affiliate.ParentID != nil {
			metadata["parent_id"] = affiliate.ParentID.String()
		}
		return s.audit(ctx, tx, auditdomain.ActionAffiliateCreated, affiliate.ID, metadata)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("affiliate created",
		zap.String("affiliate_id", affiliate.ID.String()),
		zap.String("status", string(affiliate.Status)),
	)
	return affiliate, nil
}

func (s *Service) resolveParent(ctx context.Context, tx *gorm.DB, req affiliatedomain.CreateRequest) (*affiliatedomain.Affiliate, error) {
	var (
		parent *affiliatedomain.Affiliate
		err    error
	)
	switch {
	case req.ParentID != nil:
		parent, err = s.repo.FindByID(ctx, tx, *req.ParentID)
	case strings.TrimSpace(req.ParentCode) != "":
		parent, err = s.repo.FindByCode(ctx, tx, strings.TrimSpace(req.ParentCode))
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, affiliatedomain.ErrUnknownAffiliate
	}
	return parent, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*affiliatedomain.Affiliate, error) {
	affiliate, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		return nil, affiliatedomain.ErrUnknownAffiliate
	}
	return affiliate, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*affiliatedomain.Affiliate, error) {
	affiliate, err := s.repo.FindByCode(ctx, s.db, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		return nil, affiliatedomain.ErrUnknownAffiliate
	}
	return affiliate, nil
}

func (s *Service) List(ctx context.Context, req affiliatedomain.ListRequest) (affiliatedomain.ListResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return affiliatedomain.ListResponse{}, affiliatedomain.ErrInvalidStatus
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return affiliatedomain.ListResponse{}, err
	}
	limit := pagination.NormalizeSize(req.PageSize)

	rows, err := s.repo.List(ctx, s.db, req, cursor, limit+1)
	if err != nil {
		return affiliatedomain.ListResponse{}, err
	}
	rows, info := pagination.Trim(rows, limit, func(a affiliatedomain.Affiliate) pagination.Cursor {
		return pagination.Cursor{ID: a.ID, CreatedAt: a.CreatedAt}
	})
	return affiliatedomain.ListResponse{PageInfo: info, Affiliates: rows}, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id snowflake.ID, status affiliatedomain.Status) (*affiliatedomain.Affiliate, error) {
	if !status.Valid() {
		return nil, affiliatedomain.ErrInvalidStatus
	}

	var updated *affiliatedomain.Affiliate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return affiliatedomain.ErrUnknownAffiliate
		}
		if current.Status == status {
			updated = current
			return nil
		}
		if !current.Status.CanTransitionTo(status) {
			return affiliatedomain.ErrInvalidStatusTransition
		}

		now := s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, tx, id, status, now); err != nil {
			return err
		}
		if status == affiliatedomain.StatusActive && s.hook != nil {
			if err := s.hook.OnAffiliateActivated(ctx, tx, id); err != nil {
				return err
			}
		}

		if err := s.audit(ctx, tx, auditdomain.ActionAffiliateStatusChanged, id, map[string]any{
			"from": string(current.Status),
			"to":   string(status),
		}); err != nil {
			return err
		}

		s.log.Info("affiliate status changed",
			zap.String("affiliate_id", id.String()),
			zap.String("from", string(current.Status)),
			zap.String("to", string(status)),
		)
		current.Status = status
		current.UpdatedAt = now
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Attach(ctx context.Context, childID, parentID snowflake.ID) error {
	if childID == parentID {
		return affiliatedomain.ErrCycleDetected
	}
	maxDepth := s.config.Get().MaxDepth

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.LockGenealogy(ctx, tx); err != nil {
			return err
		}

		child, err := s.repo.FindByID(ctx, tx, childID)
		if err != nil {
			return err
		}
		if child == nil {
			return affiliatedomain.ErrUnknownAffiliate
		}

		// The parent's chain up to the root; the child appearing in it means
		// the parent is one of the child's descendants.
		chain, err := s.chainUp(ctx, tx, parentID, 0)
		if err != nil {
			return err
		}
		for _, id := range chain {
			if id == childID {
				return affiliatedomain.ErrCycleDetected
			}
		}

		parentDepth := len(chain)
		if parentDepth+1 > maxDepth {
			return affiliatedomain.ErrDepthExceeded
		}
		height, err := s.subtreeHeight(ctx, tx, childID, maxDepth-parentDepth+1)
		if err != nil {
			return err
		}
		if parentDepth+height > maxDepth {
			return affiliatedomain.ErrDepthExceeded
		}

		if child.ParentID != nil && *child.ParentID == parentID {
			return nil
		}
		if err := s.repo.UpdateParent(ctx, tx, childID, parentID, s.clock.Now()); err != nil {
			return err
		}
		metadata := map[string]any{"parent_id": parentID.String()}
		if child.ParentID != nil {
			metadata["previous_parent_id"] = child.ParentID.String()
		}
		if err := s.audit(ctx, tx, auditdomain.ActionAffiliateAttached, childID, metadata); err != nil {
			return err
		}

		s.log.Info("affiliate attached",
			zap.String("affiliate_id", childID.String()),
			zap.String("parent_id", parentID.String()),
			zap.Int("depth", parentDepth+1),
		)
		return nil
	})
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, affiliateID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	target := affiliateID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, nil, action, auditdomain.TargetAffiliate, &target, metadata)
}

func (s *Service) AncestorsOf(ctx context.Context, affiliateID snowflake.ID, maxDepth int) ([]snowflake.ID, error) {
	return s.AncestorsOfTx(ctx, s.db, affiliateID, maxDepth)
}

func (s *Service) AncestorsOfTx(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, maxDepth int) ([]snowflake.ID, error) {
	if maxDepth <= 0 {
		return nil, affiliatedomain.ErrInvalidDepth
	}
	return s.chainUp(ctx, tx, affiliateID, maxDepth)
}

// chainUp walks parent pointers from id, closest first. limit <= 0 walks to
// the root; the visited set stops on corrupted data instead of looping.
func (s *Service) chainUp(ctx context.Context, tx *gorm.DB, id snowflake.ID, limit int) ([]snowflake.ID, error) {
	chain := make([]snowflake.ID, 0, max(limit, 4))
	visited := make(map[snowflake.ID]struct{})

	current := id
	for limit <= 0 || len(chain) < limit {
		affiliate, err := s.repo.FindByID(ctx, tx, current)
		if err != nil {
			return nil, err
		}
		if affiliate == nil {
			if len(chain) == 0 {
				return nil, affiliatedomain.ErrUnknownAffiliate
			}
			break
		}
		if _, seen := visited[affiliate.ID]; seen {
			s.log.Error("cycle found in stored genealogy", zap.String("affiliate_id", affiliate.ID.String()))
			return nil, affiliatedomain.ErrCycleDetected
		}
		visited[affiliate.ID] = struct{}{}
		chain = append(chain, affiliate.ID)

		if affiliate.ParentID == nil {
			break
		}
		current = *affiliate.ParentID
	}
	return chain, nil
}

// subtreeHeight counts levels below and including root, stopping once the
// count exceeds limit.
func (s *Service) subtreeHeight(ctx context.Context, tx *gorm.DB, root snowflake.ID, limit int) (int, error) {
	height := 1
	frontier := []snowflake.ID{root}
	for height <= limit {
		children, err := s.repo.ChildrenOf(ctx, tx, frontier)
		if err != nil {
			return 0, err
		}
		if len(children) == 0 {
			return height, nil
		}
		height++
		frontier = children
	}
	return height, nil
}
