package patients

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/infrastructure/memory"
)

func TestRegisterAndSearch(t *testing.T) {
	svc := NewService(memory.New(), nil)
	ctx := context.Background()

	a, err := svc.Register(ctx, domain.Patient{Name: "Nimal", MobileNumber: "0771112222"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, domain.Patient{Name: "Sunil", MobileNumber: "0719998888"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, domain.Patient{Name: "Dup", MobileNumber: "0771112222"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Register(ctx, domain.Patient{Name: "", MobileNumber: "0700000000"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	found, err := svc.SearchByMobile(ctx, "077")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHistory(t *testing.T) {
	svc := NewService(memory.New(), nil)
	ctx := context.Background()

	p, err := svc.Register(ctx, domain.Patient{Name: "Nimal", MobileNumber: "0771112222"})
	require.NoError(t, err)

	h, err := svc.History(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nimal", h.Patient.Name)
	assert.NotNil(t, h.Consultations)
	assert.Empty(t, h.Consultations)

	_, err = svc.History(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
