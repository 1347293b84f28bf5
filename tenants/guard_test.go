package tenants_test

import (
	"testing"

	"github.com/jrsteele09/learnbox-auth/internal/utils"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/jrsteele09/learnbox-auth/users"
	"github.com/stretchr/testify/require"
)

func profile(college *int64, roles ...users.RoleType) *users.Profile {
	return &users.Profile{ID: 1, Email: "a@x.com", Roles: roles, CollegeID: college}
}

func TestValidate_Scenarios(t *testing.T) {
	t.Run("student omits college", func(t *testing.T) {
		p := profile(utils.Ptr(int64(4)), users.RoleStudent)
		require.Equal(t, tenants.Missing, tenants.Validate(p, tenants.SelectionNone))
	})

	t.Run("student selects wrong college", func(t *testing.T) {
		p := profile(utils.Ptr(int64(4)), users.RoleStudent)
		require.Equal(t, tenants.Mismatch, tenants.Validate(p, "7"))
	})

	t.Run("student selects own college", func(t *testing.T) {
		p := profile(utils.Ptr(int64(4)), users.RoleStudent)
		require.Equal(t, tenants.OK, tenants.Validate(p, "4"))
	})

	t.Run("super admin with no college", func(t *testing.T) {
		p := profile(nil, users.RoleSuperAdmin)
		require.Equal(t, tenants.OK, tenants.Validate(p, tenants.SelectionNone))
	})

	t.Run("super admin selecting a college it is not in", func(t *testing.T) {
		p := profile(nil, users.RoleSuperAdmin)
		require.Equal(t, tenants.Mismatch, tenants.Validate(p, "3"))
	})

	t.Run("college admin with empty selection", func(t *testing.T) {
		p := profile(utils.Ptr(int64(2)), users.RoleCollegeAdmin)
		require.Equal(t, tenants.Missing, tenants.Validate(p, ""))
	})

	t.Run("garbage selection", func(t *testing.T) {
		p := profile(utils.Ptr(int64(2)), users.RoleStudent)
		require.Equal(t, tenants.Mismatch, tenants.Validate(p, "two"))
	})

	t.Run("nil profile", func(t *testing.T) {
		require.Equal(t, tenants.Missing, tenants.Validate(nil, "2"))
	})
}

// Every (profile, selection) pair lands in exactly one outcome, the outcome
// follows the documented rules, and repeated calls agree.
func TestValidate_PartitionsDomain(t *testing.T) {
	roleSets := [][]users.RoleType{
		{users.RoleStudent},
		{users.RoleCollegeAdmin},
		{users.RoleSuperAdmin},
		{users.RoleStudent, users.RoleSuperAdmin},
		{users.RoleCollegeAdmin, users.RoleStudent},
		{},
	}
	colleges := []*int64{nil, utils.Ptr(int64(4)), utils.Ptr(int64(7))}
	selections := []tenants.Selection{tenants.SelectionNone, "", " ", "4", "7", "x", "-1"}

	for _, roles := range roleSets {
		for _, college := range colleges {
			for _, sel := range selections {
				p := profile(college, roles...)
				got := tenants.Validate(p, sel)
				require.Equal(t, got, tenants.Validate(p, sel))

				scoped := p.HasRole(users.RoleStudent) || p.HasRole(users.RoleCollegeAdmin)
				id, numeric := sel.CollegeID()
				var want tenants.Outcome
				switch {
				case scoped && sel.IsNone():
					want = tenants.Missing
				case !sel.IsNone() && (!numeric || college == nil || *college != id):
					want = tenants.Mismatch
				default:
					want = tenants.OK
				}
				require.Equal(t, want, got, "roles=%v college=%v selection=%q", roles, college, sel)
			}
		}
	}
}

func TestSelection(t *testing.T) {
	require.True(t, tenants.Selection("").IsNone())
	require.True(t, tenants.Selection(" none ").IsNone())
	require.Equal(t, tenants.Selection("12"), tenants.SelectionFor(12))

	id, ok := tenants.Selection(" 12 ").CollegeID()
	require.True(t, ok)
	require.Equal(t, int64(12), id)

	_, ok = tenants.SelectionNone.CollegeID()
	require.False(t, ok)
}
