package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"babylog/backend/internal/report"
)

type userSettings struct {
	PaginateBy        int     `json:"paginate_by"`
	DateRangeDays     int     `json:"date_range_days"`
	SleepEnabled      bool    `json:"sleep_enabled"`
	MealsEnabled      bool    `json:"meals_enabled"`
	DiapersEnabled    bool    `json:"diapers_enabled"`
	DefaultChildID    *string `json:"default_child_id"`
	StartHourDay      int     `json:"start_hour_day"`
	StartHourNight    int     `json:"start_hour_night"`
	HistogramRaster   int     `json:"histogram_raster"`
	HistogramFactorMD int     `json:"histogram_factor_md"`
	ShowMealDurations bool    `json:"show_meal_durations"`
}

func defaultUserSettings() userSettings {
	window := report.DefaultDayWindow()
	return userSettings{
		PaginateBy:        20,
		DateRangeDays:     14,
		SleepEnabled:      true,
		MealsEnabled:      false,
		DiapersEnabled:    false,
		StartHourDay:      window.DayStartHour,
		StartHourNight:    window.NightStartHour,
		HistogramRaster:   10,
		HistogramFactorMD: 6,
		ShowMealDurations: true,
	}
}

func (s userSettings) dayWindow() report.DayWindow {
	return report.DayWindow{DayStartHour: s.StartHourDay, NightStartHour: s.StartHourNight}
}

type updateMySettingsRequest struct {
	PaginateBy        *int    `json:"paginate_by"`
	DateRangeDays     *int    `json:"date_range_days"`
	SleepEnabled      *bool   `json:"sleep_enabled"`
	MealsEnabled      *bool   `json:"meals_enabled"`
	DiapersEnabled    *bool   `json:"diapers_enabled"`
	DefaultChildID    *string `json:"default_child_id"`
	StartHourDay      *int    `json:"start_hour_day"`
	StartHourNight    *int    `json:"start_hour_night"`
	HistogramRaster   *int    `json:"histogram_raster"`
	HistogramFactorMD *int    `json:"histogram_factor_md"`
	ShowMealDurations *bool   `json:"show_meal_durations"`
}

// apply merges the request into current and validates the result.
func (r updateMySettingsRequest) apply(current userSettings) (userSettings, error) {
	next := current
	if r.PaginateBy != nil {
		next.PaginateBy = *r.PaginateBy
	}
	if r.DateRangeDays != nil {
		next.DateRangeDays = *r.DateRangeDays
	}
	if r.SleepEnabled != nil {
		next.SleepEnabled = *r.SleepEnabled
	}
	if r.MealsEnabled != nil {
		next.MealsEnabled = *r.MealsEnabled
	}
	if r.DiapersEnabled != nil {
		next.DiapersEnabled = *r.DiapersEnabled
	}
	if r.DefaultChildID != nil {
		trimmed := strings.TrimSpace(*r.DefaultChildID)
		if trimmed == "" {
			next.DefaultChildID = nil
		} else {
			next.DefaultChildID = &trimmed
		}
	}
	if r.StartHourDay != nil {
		next.StartHourDay = *r.StartHourDay
	}
	if r.StartHourNight != nil {
		next.StartHourNight = *r.StartHourNight
	}
	if r.HistogramRaster != nil {
		next.HistogramRaster = *r.HistogramRaster
	}
	if r.HistogramFactorMD != nil {
		next.HistogramFactorMD = *r.HistogramFactorMD
	}
	if r.ShowMealDurations != nil {
		next.ShowMealDurations = *r.ShowMealDurations
	}

	if next.PaginateBy < 1 || next.PaginateBy > 200 {
		return userSettings{}, errors.New("paginate_by must be between 1 and 200")
	}
	if next.DateRangeDays < 1 || next.DateRangeDays > 366 {
		return userSettings{}, errors.New("date_range_days must be between 1 and 366")
	}
	if err := next.dayWindow().Validate(); err != nil {
		return userSettings{}, err
	}
	if !validRaster(next.HistogramRaster) {
		return userSettings{}, errors.New("histogram_raster must divide 60")
	}
	if next.HistogramFactorMD < 1 || next.HistogramFactorMD > 12 {
		return userSettings{}, errors.New("histogram_factor_md must be between 1 and 12")
	}
	return next, nil
}

func validRaster(minutes int) bool {
	return minutes > 0 && minutes <= 60 && 60%minutes == 0
}

// loadUserSettings returns stored settings or the defaults when none exist.
func loadUserSettings(ctx context.Context, q dbQuerier, userID string) (userSettings, error) {
	s := userSettings{}
	err := q.QueryRow(
		ctx,
		`SELECT paginate_by, date_range_days, sleep_enabled, meals_enabled, diapers_enabled,
		        default_child_id::text, start_hour_day, start_hour_night,
		        histogram_raster, histogram_factor_md, show_meal_durations
		 FROM user_settings
		 WHERE user_id = $1`,
		userID,
	).Scan(
		&s.PaginateBy,
		&s.DateRangeDays,
		&s.SleepEnabled,
		&s.MealsEnabled,
		&s.DiapersEnabled,
		&s.DefaultChildID,
		&s.StartHourDay,
		&s.StartHourNight,
		&s.HistogramRaster,
		&s.HistogramFactorMD,
		&s.ShowMealDurations,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return defaultUserSettings(), nil
	}
	if err != nil {
		return userSettings{}, err
	}
	return s, nil
}

func (a *App) getMySettings(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	settings, err := loadUserSettings(c.Request.Context(), a.db, user.ID)
	if err != nil {
		logError(c, "load settings", err)
		writeError(c, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (a *App) updateMySettings(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload updateMySettingsRequest
	if !mustJSON(c, &payload) {
		return
	}

	ctx := c.Request.Context()
	current, err := loadUserSettings(ctx, a.db, user.ID)
	if err != nil {
		logError(c, "load settings", err)
		writeError(c, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	next, err := payload.apply(current)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if next.DefaultChildID != nil {
		if _, statusCode, err := a.getChildWithAccess(ctx, user.ID, *next.DefaultChildID); err != nil {
			if statusCode == http.StatusInternalServerError {
				logError(c, "load default child", err)
				writeError(c, statusCode, "Failed to load child")
				return
			}
			writeError(c, http.StatusBadRequest, "default_child_id must reference an accessible child")
			return
		}
	}

	if _, err := a.db.Exec(
		ctx,
		`INSERT INTO user_settings (
			user_id, paginate_by, date_range_days, sleep_enabled, meals_enabled, diapers_enabled,
			default_child_id, start_hour_day, start_hour_night, histogram_raster,
			histogram_factor_md, show_meal_durations, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
			paginate_by = EXCLUDED.paginate_by,
			date_range_days = EXCLUDED.date_range_days,
			sleep_enabled = EXCLUDED.sleep_enabled,
			meals_enabled = EXCLUDED.meals_enabled,
			diapers_enabled = EXCLUDED.diapers_enabled,
			default_child_id = EXCLUDED.default_child_id,
			start_hour_day = EXCLUDED.start_hour_day,
			start_hour_night = EXCLUDED.start_hour_night,
			histogram_raster = EXCLUDED.histogram_raster,
			histogram_factor_md = EXCLUDED.histogram_factor_md,
			show_meal_durations = EXCLUDED.show_meal_durations,
			updated_at = NOW()`,
		user.ID,
		next.PaginateBy,
		next.DateRangeDays,
		next.SleepEnabled,
		next.MealsEnabled,
		next.DiapersEnabled,
		next.DefaultChildID,
		next.StartHourDay,
		next.StartHourNight,
		next.HistogramRaster,
		next.HistogramFactorMD,
		next.ShowMealDurations,
	); err != nil {
		logError(c, "save settings", err)
		writeError(c, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	c.JSON(http.StatusOK, next)
}
