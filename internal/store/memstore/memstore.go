// Package memstore реализует store.Store в памяти процесса.
//
// Транзакции сериализуются общим мьютексом: fn работает с копией состояния,
// и копия заменяет состояние только при успешном завершении fn.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"write-paid/internal/store"
	"write-paid/pkg/models"

	"github.com/google/uuid"
)

type state struct {
	users       map[string]models.UserProfile
	codes       map[string]models.ReferralCode
	referrals   map[string]models.Referral
	payouts     map[string]models.Payout
	courses     map[string]models.Course
	enrollments map[string]models.Enrollment
	leads       map[string]models.Lead
	grants      map[string]models.AdminGrant
}

func newState() *state {
	return &state{
		users:       make(map[string]models.UserProfile),
		codes:       make(map[string]models.ReferralCode),
		referrals:   make(map[string]models.Referral),
		payouts:     make(map[string]models.Payout),
		courses:     make(map[string]models.Course),
		enrollments: make(map[string]models.Enrollment),
		leads:       make(map[string]models.Lead),
		grants:      make(map[string]models.AdminGrant),
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		users:       cloneMap(s.users),
		codes:       cloneMap(s.codes),
		referrals:   cloneMap(s.referrals),
		payouts:     cloneMap(s.payouts),
		courses:     cloneMap(s.courses),
		enrollments: cloneMap(s.enrollments),
		leads:       cloneMap(s.leads),
		grants:      cloneMap(s.grants),
	}
}

// Store хранилище в памяти
type Store struct {
	mu       sync.Mutex
	st       *state
	failures map[string]error
	now      func() time.Time
	closed   bool
}

// New создает пустое хранилище
func New() *Store {
	return &Store{
		st:       newState(),
		failures: make(map[string]error),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock заменяет источник времени для создаваемых записей
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = func() time.Time { return now().UTC() }
}

// FailOn заставляет операцию op (например "users.Create") возвращать err.
// nil снимает ошибку.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// view связывает репозитории с состоянием: общим (под мьютексом) или транзакционной копией
type view struct {
	s  *Store
	tx *state
}

func (v view) do(op string, fn func(st *state) error) error {
	if v.tx == nil {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	if err := v.s.failures[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	return fn(v.s.st)
}

type repositories struct {
	v view
}

func (r repositories) User() store.UserRepository                 { return userRepo(r) }
func (r repositories) ReferralCode() store.ReferralCodeRepository { return codeRepo(r) }
func (r repositories) Referral() store.ReferralRepository         { return referralRepo(r) }
func (r repositories) Payout() store.PayoutRepository             { return payoutRepo(r) }
func (r repositories) Course() store.CourseRepository             { return courseRepo(r) }
func (r repositories) Enrollment() store.EnrollmentRepository     { return enrollmentRepo(r) }
func (r repositories) Lead() store.LeadRepository                 { return leadRepo(r) }
func (r repositories) AdminGrant() store.AdminGrantRepository     { return grantRepo(r) }

func (s *Store) top() repositories { return repositories{v: view{s: s}} }

func (s *Store) User() store.UserRepository                 { return s.top().User() }
func (s *Store) ReferralCode() store.ReferralCodeRepository { return s.top().ReferralCode() }
func (s *Store) Referral() store.ReferralRepository         { return s.top().Referral() }
func (s *Store) Payout() store.PayoutRepository             { return s.top().Payout() }
func (s *Store) Course() store.CourseRepository             { return s.top().Course() }
func (s *Store) Enrollment() store.EnrollmentRepository     { return s.top().Enrollment() }
func (s *Store) Lead() store.LeadRepository                 { return s.top().Lead() }
func (s *Store) AdminGrant() store.AdminGrantRepository     { return s.top().AdminGrant() }

// RunInTx выполняет fn над копией состояния. Репозитории Store внутри fn
// использовать нельзя, только переданные tx.
func (s *Store) RunInTx(ctx context.Context, fn store.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.failures["tx.Commit"]; err != nil {
		// Ошибка фиксации: fn выполняется, но изменения отбрасываются.
		_ = fn(ctx, repositories{v: view{s: s, tx: s.st.clone()}})
		return fmt.Errorf("tx.Commit: %w", err)
	}

	work := s.st.clone()
	if err := fn(ctx, repositories{v: view{s: s, tx: work}}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Ping проверяет доступность хранилища
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("хранилище закрыто")
	}
	return nil
}

// Close закрывает хранилище
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type userRepo repositories

func (r userRepo) Create(ctx context.Context, user *models.UserProfile) error {
	return r.v.do("users.Create", func(st *state) error {
		if _, ok := st.users[user.UID]; ok {
			return fmt.Errorf("профиль %s: %w", user.UID, store.ErrConflict)
		}
		for _, u := range st.users {
			switch {
			case u.Username == user.Username:
				return store.ErrUsernameTaken
			case u.Email == user.Email:
				return store.ErrEmailTaken
			case u.ReferralCode == user.ReferralCode:
				return fmt.Errorf("реферальный код %s: %w", user.ReferralCode, store.ErrConflict)
			}
		}
		now := r.v.s.now()
		user.CreatedAt = now
		user.UpdatedAt = now
		if user.Package == "" {
			user.Package = models.PackageBronze
		}
		st.users[user.UID] = *user
		return nil
	})
}

func (r userRepo) get(op, uid string) (*models.UserProfile, error) {
	var out models.UserProfile
	err := r.v.do(op, func(st *state) error {
		u, ok := st.users[uid]
		if !ok {
			return store.ErrNotFound
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r userRepo) Get(ctx context.Context, uid string) (*models.UserProfile, error) {
	return r.get("users.Get", uid)
}

func (r userRepo) GetForUpdate(ctx context.Context, uid string) (*models.UserProfile, error) {
	return r.get("users.GetForUpdate", uid)
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	var out *models.UserProfile
	err := r.v.do("users.GetByEmail", func(st *state) error {
		for _, u := range st.users {
			if u.Email == email {
				u := u
				out = &u
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r userRepo) UpdateRewards(ctx context.Context, uid string, referralCount, rewardPoints int) error {
	return r.v.do("users.UpdateRewards", func(st *state) error {
		u, ok := st.users[uid]
		if !ok {
			return store.ErrNotFound
		}
		if referralCount < 0 || rewardPoints < 0 {
			return fmt.Errorf("отрицательный баланс для %s", uid)
		}
		u.ReferralCount = referralCount
		u.RewardPoints = rewardPoints
		u.UpdatedAt = r.v.s.now()
		st.users[uid] = u
		return nil
	})
}

func (r userRepo) SetAdmin(ctx context.Context, uid string, isAdmin bool) error {
	return r.v.do("users.SetAdmin", func(st *state) error {
		u, ok := st.users[uid]
		if !ok {
			return store.ErrNotFound
		}
		u.IsAdmin = isAdmin
		u.UpdatedAt = r.v.s.now()
		st.users[uid] = u
		return nil
	})
}

func (r userRepo) list(op string, keep func(models.UserProfile) bool, less func(a, b models.UserProfile) bool, limit int) ([]*models.UserProfile, error) {
	var out []*models.UserProfile
	err := r.v.do(op, func(st *state) error {
		var all []models.UserProfile
		for _, u := range st.users {
			if keep(u) {
				all = append(all, u)
			}
		}
		sort.Slice(all, func(i, j int) bool {
			if less(all[i], all[j]) {
				return true
			}
			if less(all[j], all[i]) {
				return false
			}
			return all[i].UID < all[j].UID
		})
		for i := range all {
			if limit > 0 && i >= limit {
				break
			}
			u := all[i]
			out = append(out, &u)
		}
		return nil
	})
	return out, err
}

func (r userRepo) ListWithRewards(ctx context.Context, limit int) ([]*models.UserProfile, error) {
	return r.list("users.ListWithRewards",
		func(u models.UserProfile) bool { return u.RewardPoints > 0 },
		func(a, b models.UserProfile) bool { return a.RewardPoints > b.RewardPoints },
		limit)
}

func (r userRepo) ListRecent(ctx context.Context, limit int) ([]*models.UserProfile, error) {
	return r.list("users.ListRecent",
		func(models.UserProfile) bool { return true },
		func(a, b models.UserProfile) bool { return a.CreatedAt.After(b.CreatedAt) },
		limit)
}

func (r userRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.v.do("users.Count", func(st *state) error {
		n = len(st.users)
		return nil
	})
	return n, err
}

func (r userRepo) CountByPackage(ctx context.Context) (map[models.PackageTier]int, error) {
	counts := make(map[models.PackageTier]int)
	err := r.v.do("users.CountByPackage", func(st *state) error {
		for _, u := range st.users {
			counts[u.Package]++
		}
		return nil
	})
	return counts, err
}

func (r userRepo) DailySignups(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	byDay := make(map[string]int)
	err := r.v.do("users.DailySignups", func(st *state) error {
		for _, u := range st.users {
			if !u.CreatedAt.Before(since) {
				byDay[u.CreatedAt.UTC().Format("2006-01-02")]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []models.DailyCount
	for day, n := range byDay {
		out = append(out, models.DailyCount{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (r userRepo) SumRewardPoints(ctx context.Context) (int, error) {
	var sum int
	err := r.v.do("users.SumRewardPoints", func(st *state) error {
		for _, u := range st.users {
			sum += u.RewardPoints
		}
		return nil
	})
	return sum, err
}

type codeRepo repositories

func (r codeRepo) Create(ctx context.Context, code *models.ReferralCode) error {
	return r.v.do("referralCodes.Create", func(st *state) error {
		if _, ok := st.codes[code.Code]; ok {
			return fmt.Errorf("реферальный код %s: %w", code.Code, store.ErrConflict)
		}
		if code.CreatedAt.IsZero() {
			code.CreatedAt = r.v.s.now()
		}
		st.codes[code.Code] = *code
		return nil
	})
}

func (r codeRepo) Get(ctx context.Context, code string) (*models.ReferralCode, error) {
	var out models.ReferralCode
	err := r.v.do("referralCodes.Get", func(st *state) error {
		rc, ok := st.codes[code]
		if !ok {
			return store.ErrNotFound
		}
		out = rc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r codeRepo) Exists(ctx context.Context, code string) (bool, error) {
	var ok bool
	err := r.v.do("referralCodes.Exists", func(st *state) error {
		_, ok = st.codes[code]
		return nil
	})
	return ok, err
}

type referralRepo repositories

func (r referralRepo) Create(ctx context.Context, referral *models.Referral) error {
	return r.v.do("referrals.Create", func(st *state) error {
		if referral.ReferrerUID == referral.RefereeUID {
			return fmt.Errorf("реферер совпадает с приглашенным: %s", referral.RefereeUID)
		}
		for _, existing := range st.referrals {
			if existing.RefereeUID == referral.RefereeUID {
				return fmt.Errorf("реферал для %s: %w", referral.RefereeUID, store.ErrConflict)
			}
		}
		if referral.ID == "" {
			referral.ID = uuid.NewString()
		}
		if referral.CreatedAt.IsZero() {
			referral.CreatedAt = r.v.s.now()
		}
		st.referrals[referral.ID] = *referral
		return nil
	})
}

func (r referralRepo) GetByReferee(ctx context.Context, refereeUID string) (*models.Referral, error) {
	var out *models.Referral
	err := r.v.do("referrals.GetByReferee", func(st *state) error {
		for _, ref := range st.referrals {
			if ref.RefereeUID == refereeUID {
				ref := ref
				out = &ref
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r referralRepo) ListByReferrer(ctx context.Context, referrerUID string, limit int) ([]*models.Referral, error) {
	var out []*models.Referral
	err := r.v.do("referrals.ListByReferrer", func(st *state) error {
		for _, ref := range st.referrals {
			if ref.ReferrerUID == referrerUID {
				ref := ref
				out = append(out, &ref)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type payoutRepo repositories

func (r payoutRepo) Create(ctx context.Context, payout *models.Payout) error {
	return r.v.do("payouts.Create", func(st *state) error {
		if payout.Amount <= 0 {
			return fmt.Errorf("сумма выплаты должна быть положительной: %d", payout.Amount)
		}
		if payout.ID == "" {
			payout.ID = uuid.NewString()
		}
		if payout.CreatedAt.IsZero() {
			payout.CreatedAt = r.v.s.now()
		}
		st.payouts[payout.ID] = *payout
		return nil
	})
}

func (r payoutRepo) collect(op string, keep func(models.Payout) bool, limit int) ([]*models.Payout, error) {
	var out []*models.Payout
	err := r.v.do(op, func(st *state) error {
		for _, p := range st.payouts {
			if keep(p) {
				p := p
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r payoutRepo) List(ctx context.Context, limit int) ([]*models.Payout, error) {
	return r.collect("payouts.List", func(models.Payout) bool { return true }, limit)
}

func (r payoutRepo) ListByUser(ctx context.Context, uid string) ([]*models.Payout, error) {
	return r.collect("payouts.ListByUser", func(p models.Payout) bool { return p.UserID == uid }, 0)
}

type courseRepo repositories

func (r courseRepo) Create(ctx context.Context, course *models.Course) error {
	return r.v.do("courses.Create", func(st *state) error {
		if course.ID == "" {
			course.ID = uuid.NewString()
		}
		if _, ok := st.courses[course.ID]; ok {
			return fmt.Errorf("курс %s: %w", course.ID, store.ErrConflict)
		}
		for _, c := range st.courses {
			if c.Slug == course.Slug {
				return fmt.Errorf("slug %s: %w", course.Slug, store.ErrConflict)
			}
		}
		course.CreatedAt = r.v.s.now()
		st.courses[course.ID] = *course
		return nil
	})
}

func (r courseRepo) Get(ctx context.Context, id string) (*models.Course, error) {
	var out models.Course
	err := r.v.do("courses.Get", func(st *state) error {
		c, ok := st.courses[id]
		if !ok {
			return store.ErrNotFound
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r courseRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	var found bool
	err := r.v.do("courses.SlugExists", func(st *state) error {
		for _, c := range st.courses {
			if c.Slug == slug {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

func (r courseRepo) List(ctx context.Context) ([]*models.Course, error) {
	var out []*models.Course
	err := r.v.do("courses.List", func(st *state) error {
		for _, c := range st.courses {
			c := c
			out = append(out, &c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (r courseRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.v.do("courses.Count", func(st *state) error {
		n = len(st.courses)
		return nil
	})
	return n, err
}

type enrollmentRepo repositories

func (r enrollmentRepo) CreateIfAbsent(ctx context.Context, e *models.Enrollment) (bool, error) {
	var created bool
	err := r.v.do("enrollments.CreateIfAbsent", func(st *state) error {
		if e.ID == "" {
			e.ID = e.OrderID
		}
		if _, ok := st.enrollments[e.ID]; ok {
			return nil
		}
		for _, existing := range st.enrollments {
			if existing.OrderID == e.OrderID {
				return nil
			}
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = r.v.s.now()
		}
		st.enrollments[e.ID] = *e
		created = true
		return nil
	})
	return created, err
}

func (r enrollmentRepo) Exists(ctx context.Context, uid, courseID string) (bool, error) {
	var found bool
	err := r.v.do("enrollments.Exists", func(st *state) error {
		for _, e := range st.enrollments {
			if e.UserID == uid && e.CourseID == courseID {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

func (r enrollmentRepo) ListByUser(ctx context.Context, uid string) ([]*models.Enrollment, error) {
	var out []*models.Enrollment
	err := r.v.do("enrollments.ListByUser", func(st *state) error {
		for _, e := range st.enrollments {
			if e.UserID == uid {
				e := e
				out = append(out, &e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

type leadRepo repositories

func (r leadRepo) Create(ctx context.Context, lead *models.Lead) error {
	return r.v.do("leads.Create", func(st *state) error {
		if lead.ID == "" {
			lead.ID = uuid.NewString()
		}
		lead.CreatedAt = r.v.s.now()
		st.leads[lead.ID] = *lead
		return nil
	})
}

func (r leadRepo) List(ctx context.Context, limit int) ([]*models.Lead, error) {
	var out []*models.Lead
	err := r.v.do("leads.List", func(st *state) error {
		for _, l := range st.leads {
			l := l
			out = append(out, &l)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r leadRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.v.do("leads.Count", func(st *state) error {
		n = len(st.leads)
		return nil
	})
	return n, err
}

type grantRepo repositories

func (r grantRepo) Put(ctx context.Context, grant *models.AdminGrant) error {
	return r.v.do("adminGrants.Put", func(st *state) error {
		if grant.CreatedAt.IsZero() {
			grant.CreatedAt = r.v.s.now()
		}
		st.grants[grant.Email] = *grant
		return nil
	})
}

func (r grantRepo) Take(ctx context.Context, email string) (bool, error) {
	var found bool
	err := r.v.do("adminGrants.Take", func(st *state) error {
		_, found = st.grants[email]
		delete(st.grants, email)
		return nil
	})
	return found, err
}

var _ store.Store = (*Store)(nil)
