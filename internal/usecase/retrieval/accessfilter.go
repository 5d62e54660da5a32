package retrieval

import (
	"context"
	"log/slog"
	"time"

	"retrieval-service/internal/domain"
)

// BuildFilter derives the access filter from the requesting identity.
// SUPER_ADMIN gets an empty (unrestricted) filter; every other role is
// limited to public documents plus the user's whitelist. A failed
// whitelist lookup degrades to public-only instead of failing the
// request.
func BuildFilter(
	ctx context.Context,
	st State,
	meta domain.MetadataStore,
	logger *slog.Logger,
) Delta {
	start := time.Now()

	// The filter is stable across retry iterations.
	if st.Filter != nil {
		return Delta{Stage: StageBuildFilter}
	}

	var (
		filter *domain.AccessFilter
		errors []StageError
	)

	if st.UserRole == domain.RoleSuperAdmin {
		filter = domain.NewUnrestrictedFilter(st.UserRole)
	} else {
		whitelist, err := meta.GetUserWhitelist(ctx, st.UserID)
		if err != nil {
			logger.Warn("whitelist_lookup_failed",
				slog.String("retrieval_id", st.RetrievalID),
				slog.String("user_id", st.UserID),
				slog.String("error", err.Error()))
			errors = append(errors, StageError{
				Stage:   StageBuildFilter,
				Message: "whitelist lookup failed, degraded to public-only",
			})
			whitelist = nil
		}
		filter = domain.NewRestrictedFilter(st.UserRole, whitelist)
	}

	logger.Info("access_filter_built",
		slog.String("retrieval_id", st.RetrievalID),
		slog.String("role", st.UserRole),
		slog.Bool("unrestricted", filter.Unrestricted),
		slog.Int("whitelist_size", len(filter.WhitelistedDocs)),
		slog.String("expression", filter.Expression()))

	return Delta{
		Filter: filter,
		Errors: errors,
		Timing: &StageTiming{Stage: StageBuildFilter, Duration: time.Since(start)},
		Stage:  StageBuildFilter,
	}
}
