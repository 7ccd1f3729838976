package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"babylog/backend/internal/report"
)

// summaryListPageSize matches the fixed page length of the summary table.
const summaryListPageSize = 10

// reportStatus maps aggregation errors to HTTP status codes.
func reportStatus(err error) int {
	switch {
	case errors.Is(err, report.ErrInvalidRaster),
		errors.Is(err, report.ErrInvalidMeasurementType),
		errors.Is(err, report.ErrNegativeAge),
		errors.Is(err, report.ErrInvalidDuration),
		errors.Is(err, errInvalidDateRange):
		return http.StatusBadRequest
	case errors.Is(err, report.ErrNoPercentileData),
		errors.Is(err, report.ErrNoMeasurements):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeReportError(c *gin.Context, action string, err error) {
	status := reportStatus(err)
	if status == http.StatusInternalServerError {
		logError(c, action, err)
		writeError(c, status, "Failed to "+action)
		return
	}
	writeError(c, status, err.Error())
}

// reportRequest bundles what every data endpoint needs before it queries.
type reportRequest struct {
	user     AuthUser
	child    childRecord
	loc      *time.Location
	rng      dateRange
	settings userSettings
}

func (a *App) beginReport(c *gin.Context) (reportRequest, bool) {
	user, child, ok := a.requireChild(c)
	if !ok {
		return reportRequest{}, false
	}
	loc, err := a.requestLocation(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return reportRequest{}, false
	}
	rng, err := parseDateRange(c.Query("from"), c.Query("to"), loc)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return reportRequest{}, false
	}
	settings, err := loadUserSettings(c.Request.Context(), a.db, user.ID)
	if err != nil {
		logError(c, "load settings", err)
		writeError(c, http.StatusInternalServerError, "Failed to load settings")
		return reportRequest{}, false
	}
	return reportRequest{user: user, child: child, loc: loc, rng: rng, settings: settings}, true
}

func formatSince(status report.CategoryStatus) gin.H {
	out := gin.H{"state": status.State}
	if status.Since != nil {
		out["since_d"] = strconv.Itoa(status.Since.Days)
		out["since_h"] = strconv.Itoa(status.Since.Hours)
		out["since_m"] = strconv.Itoa(status.Since.Minutes)
	}
	return out
}

func (a *App) getCheck(c *gin.Context) {
	_, child, ok := a.requireChild(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	phase, err := latestSleepPhase(ctx, a.db, child.ID)
	if err != nil {
		writeReportError(c, "load sleep phases", err)
		return
	}
	lastMeal, err := latestInstant(ctx, a.db, tableMeals, child.ID)
	if err != nil {
		writeReportError(c, "load meals", err)
		return
	}
	lastDiaper, err := latestInstant(ctx, a.db, tableDiapers, child.ID)
	if err != nil {
		writeReportError(c, "load diapers", err)
		return
	}

	var lastSleep *report.Record
	if phase != nil {
		record := phase.record()
		lastSleep = &record
	}
	result := report.Check(a.now(), lastSleep, lastMeal, lastDiaper)
	c.JSON(http.StatusOK, gin.H{
		"sleep":  formatSince(result.Sleep),
		"eat":    formatSince(result.Meal),
		"diaper": formatSince(result.Diaper),
	})
}

// mergedTotals loads sleep, meal and diaper records of the request range and
// merges their per-day totals. Event and diary titles are merged in when
// withEntries is set.
func (a *App) mergedTotals(ctx context.Context, req reportRequest, withEntries bool) ([]report.MergedDay, error) {
	window := req.settings.dayWindow()

	phases, err := listSleepPhases(ctx, a.db, req.child.ID, req.rng)
	if err != nil {
		return nil, err
	}
	sleep, err := report.SleepTotals(sleepRecords(phases), window, req.loc)
	if err != nil {
		return nil, err
	}
	meals, err := listInstantRecords(ctx, a.db, tableMeals, req.child.ID, req.rng)
	if err != nil {
		return nil, err
	}
	diapers, err := listInstantRecords(ctx, a.db, tableDiapers, req.child.ID, req.rng)
	if err != nil {
		return nil, err
	}
	a.metrics.RecordReport("totals", report.CategorySleep, len(phases))
	a.metrics.RecordReport("totals", report.CategoryMeals, len(meals))
	a.metrics.RecordReport("totals", report.CategoryDiapers, len(diapers))

	sources := [][]report.MergedDay{
		report.Categorize(report.CategorySleep, sleep),
		report.Categorize(report.CategoryMeals, report.IntervalTotals(meals, window, req.loc)),
		report.Categorize(report.CategoryDiapers, report.IntervalTotals(diapers, window, req.loc)),
	}
	if withEntries {
		events, err := listTitledEntries(ctx, a.db, tableEvents, "name", req.child.ID, req.rng)
		if err != nil {
			return nil, err
		}
		diary, err := listTitledEntries(ctx, a.db, tableDiary, "title", req.child.ID, req.rng)
		if err != nil {
			return nil, err
		}
		sources = append(sources,
			report.CategorizeEntries(report.CategoryEvents, events, req.loc),
			report.CategorizeEntries(report.CategoryDiary, diary, req.loc),
		)
	}
	merged, err := report.MergeTotals(sources...)
	if err != nil {
		return nil, err
	}
	return trimToRange(merged, req.rng, req.loc), nil
}

func (a *App) getSummaryGraph(c *gin.Context) {
	req, ok := a.beginReport(c)
	if !ok {
		return
	}
	days, err := a.mergedTotals(c.Request.Context(), req, false)
	if err != nil {
		writeReportError(c, "build summary", err)
		return
	}

	n := len(days)
	dates := make([]string, 0, n)
	sumH, dayH, nightH := make([]float64, 0, n), make([]float64, 0, n), make([]float64, 0, n)
	sumCnt, dayCnt, nightCnt := make([]int, 0, n), make([]int, 0, n), make([]int, 0, n)
	mealCounts, diaperCounts := make([]int, 0, n), make([]int, 0, n)
	for _, day := range days {
		sleep, _ := day.Bucket(report.CategorySleep)
		meals, _ := day.Bucket(report.CategoryMeals)
		diapers, _ := day.Bucket(report.CategoryDiapers)
		dates = append(dates, day.Date)
		sumH = append(sumH, sleep.Sum.Hours())
		dayH = append(dayH, sleep.Day.Hours())
		nightH = append(nightH, sleep.Night.Hours())
		sumCnt = append(sumCnt, sleep.Sum.Count)
		dayCnt = append(dayCnt, sleep.Day.Count)
		nightCnt = append(nightCnt, sleep.Night.Count)
		mealCounts = append(mealCounts, meals.Sum.Count)
		diaperCounts = append(diaperCounts, diapers.Sum.Count)
	}
	c.JSON(http.StatusOK, gin.H{
		"day":       dates,
		"sum_h":     sumH,
		"day_h":     dayH,
		"night_h":   nightH,
		"sum_cnt":   sumCnt,
		"day_cnt":   dayCnt,
		"night_cnt": nightCnt,
		"meals":     mealCounts,
		"diapers":   diaperCounts,
	})
}

func tallyJSON(t report.Tally) gin.H {
	return gin.H{"count": t.Count, "hours": t.Hours()}
}

func (a *App) getSummaryList(c *gin.Context) {
	req, ok := a.beginReport(c)
	if !ok {
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		writeRecordError(c, "build summary", err)
		return
	}
	days, err := a.mergedTotals(c.Request.Context(), req, true)
	if err != nil {
		writeReportError(c, "build summary", err)
		return
	}

	sort.SliceStable(days, func(i, j int) bool { return days[i].Date > days[j].Date })
	offset, pages, current := pageWindow(len(days), summaryListPageSize, page)
	end := min(offset+summaryListPageSize, len(days))
	pageDays := days[offset:end]

	items := make([]gin.H, 0, len(pageDays))
	for _, day := range pageDays {
		sleep, _ := day.Bucket(report.CategorySleep)
		meals, _ := day.Bucket(report.CategoryMeals)
		diapers, _ := day.Bucket(report.CategoryDiapers)
		events := day.Entries[report.CategoryEvents]
		if events == nil {
			events = []string{}
		}
		diary := day.Entries[report.CategoryDiary]
		if diary == nil {
			diary = []string{}
		}
		items = append(items, gin.H{
			"day": day.Date,
			"sleep": gin.H{
				"sum":   tallyJSON(sleep.Sum),
				"day":   tallyJSON(sleep.Day),
				"night": tallyJSON(sleep.Night),
			},
			"meals":   tallyJSON(meals.Sum),
			"diapers": tallyJSON(diapers.Sum),
			"events":  events,
			"diary":   diary,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"days":        items,
		"avg_sleep_h": report.CalculateAverage(pageDays, report.CategorySleep, report.MetricTime) / 3600,
		"avg_phases":  report.CalculateAverage(pageDays, report.CategorySleep, report.MetricCount),
		"page":        current,
		"pages":       pages,
	})
}

func (a *App) getHistogram(c *gin.Context) {
	req, ok := a.beginReport(c)
	if !ok {
		return
	}
	raster, err := queryInt(c, "raster", req.settings.HistogramRaster)
	if err != nil {
		writeRecordError(c, "build histogram", err)
		return
	}

	ctx := c.Request.Context()
	phases, err := listSleepPhases(ctx, a.db, req.child.ID, req.rng)
	if err != nil {
		writeReportError(c, "load sleep phases", err)
		return
	}
	meals, err := listInstantRecords(ctx, a.db, tableMeals, req.child.ID, req.rng)
	if err != nil {
		writeReportError(c, "load meals", err)
		return
	}
	diapers, err := listInstantRecords(ctx, a.db, tableDiapers, req.child.ID, req.rng)
	if err != nil {
		writeReportError(c, "load diapers", err)
		return
	}

	sleepSlots, err := report.Histogram(sleepRecords(phases), raster, req.loc)
	if err != nil {
		writeReportError(c, "build histogram", err)
		return
	}
	mealSlots, err := report.Histogram(meals, raster, req.loc)
	if err != nil {
		writeReportError(c, "build histogram", err)
		return
	}
	diaperSlots, err := report.Histogram(diapers, raster, req.loc)
	if err != nil {
		writeReportError(c, "build histogram", err)
		return
	}
	a.metrics.RecordReport("histogram", report.CategorySleep, len(phases))
	a.metrics.RecordReport("histogram", report.CategoryMeals, len(meals))
	a.metrics.RecordReport("histogram", report.CategoryDiapers, len(diapers))

	times := make([]string, len(sleepSlots))
	sleepCounts := make([]int, len(sleepSlots))
	mealCounts := make([]int, len(mealSlots))
	diaperCounts := make([]int, len(diaperSlots))
	for i, slot := range sleepSlots {
		times[i] = slot.Time
		sleepCounts[i] = slot.Count
		mealCounts[i] = mealSlots[i].Count
		diaperCounts[i] = diaperSlots[i].Count
	}
	c.JSON(http.StatusOK, gin.H{
		"time":      times,
		"sleep":     sleepCounts,
		"meals":     mealCounts,
		"diapers":   diaperCounts,
		"raster":    raster,
		"factor_md": req.settings.HistogramFactorMD,
	})
}

func (a *App) getGrowthData(c *gin.Context) {
	_, child, ok := a.requireChild(c)
	if !ok {
		return
	}
	loc, err := a.requestLocation(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	measurements, err := listMeasurements(ctx, a.db, child.ID)
	if err != nil {
		writeReportError(c, "load measurements", err)
		return
	}
	events, err := listEventTimes(ctx, a.db, child.ID)
	if err != nil {
		writeReportError(c, "load events", err)
		return
	}

	rows := report.GrowthSeries(child.Birthday, measurements, events, loc)
	ages := make([]float64, len(rows))
	heights := make([]*float64, len(rows))
	weights := make([]*float64, len(rows))
	nrEvents := make([]int, len(rows))
	for i, row := range rows {
		ages[i] = row.AgeWeeks
		heights[i] = row.Height
		weights[i] = row.Weight
		nrEvents[i] = row.Events
	}
	c.JSON(http.StatusOK, gin.H{
		"age_weeks": ages,
		"height":    heights,
		"weight":    weights,
		"nr_events": nrEvents,
	})
}

// percentileColumns are the curves drawn around a child's measurements.
var percentileColumns = []struct {
	key   string
	value func(report.PercentileRow) float64
}{
	{"p3", func(r report.PercentileRow) float64 { return r.P3 }},
	{"p5", func(r report.PercentileRow) float64 { return r.P5 }},
	{"p10", func(r report.PercentileRow) float64 { return r.P10 }},
	{"p25", func(r report.PercentileRow) float64 { return r.P25 }},
	{"p50", func(r report.PercentileRow) float64 { return r.P50 }},
	{"p75", func(r report.PercentileRow) float64 { return r.P75 }},
	{"p90", func(r report.PercentileRow) float64 { return r.P90 }},
	{"p95", func(r report.PercentileRow) float64 { return r.P95 }},
	{"p97", func(r report.PercentileRow) float64 { return r.P97 }},
}

func (a *App) getPercentileData(c *gin.Context) {
	_, child, ok := a.requireChild(c)
	if !ok {
		return
	}
	mtype, err := report.ParseMeasurementType(c.Param("m_type"))
	if err != nil {
		writeReportError(c, "build percentiles", err)
		return
	}
	loc, err := a.requestLocation(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	rows, err := loadPercentileRows(ctx, a.db, child.Gender, mtype)
	if err != nil {
		writeReportError(c, "load percentiles", err)
		return
	}
	measurements, err := listMeasurements(ctx, a.db, child.ID)
	if err != nil {
		writeReportError(c, "load measurements", err)
		return
	}
	points, err := report.PercentileSeries(child.Birthday, measurements, mtype, rows, loc)
	if err != nil {
		writeReportError(c, "build percentiles", err)
		return
	}
	a.metrics.RecordReport("percentiles", string(mtype), len(measurements))

	days := make([]int, len(points))
	values := make([]*float64, len(points))
	curves := make(map[string][]*float64, len(percentileColumns))
	for _, col := range percentileColumns {
		curves[col.key] = make([]*float64, len(points))
	}
	for i, point := range points {
		days[i] = point.AgeDays
		values[i] = point.Value
		if point.Curve == nil {
			continue
		}
		for _, col := range percentileColumns {
			v := col.value(*point.Curve)
			curves[col.key][i] = &v
		}
	}

	response := gin.H{"day": days, "value": values, "m_type": string(mtype)}
	for key, series := range curves {
		response[key] = series
	}
	c.JSON(http.StatusOK, response)
}
