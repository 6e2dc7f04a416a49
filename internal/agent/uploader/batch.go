package uploader

import "github.com/R3E-Network/service_layer/internal/model"

// splitBatch divides a LogBatch into sub-batches of at most maxSize total
// events each, preserving within-kind order. deviceID/info are copied onto
// every sub-batch since LogBatch carries them per-POST.
func splitBatch(deviceID string, info model.DeviceInfo, full model.LogBatch, maxSize int) []model.LogBatch {
	if maxSize <= 0 || full.Len() <= maxSize {
		full.DeviceID = deviceID
		full.DeviceInfo = info
		return []model.LogBatch{full}
	}

	var batches []model.LogBatch
	cur := model.LogBatch{DeviceID: deviceID, DeviceInfo: info}
	count := 0

	flush := func() {
		if cur.Len() > 0 {
			batches = append(batches, cur)
			cur = model.LogBatch{DeviceID: deviceID, DeviceInfo: info}
			count = 0
		}
	}

	for _, e := range full.FileEvents {
		if count >= maxSize {
			flush()
		}
		cur.FileEvents = append(cur.FileEvents, e)
		count++
	}
	for _, e := range full.NetworkEvents {
		if count >= maxSize {
			flush()
		}
		cur.NetworkEvents = append(cur.NetworkEvents, e)
		count++
	}
	for _, e := range full.AppUsageEvents {
		if count >= maxSize {
			flush()
		}
		cur.AppUsageEvents = append(cur.AppUsageEvents, e)
		count++
	}
	for _, e := range full.Alerts {
		if count >= maxSize {
			flush()
		}
		cur.Alerts = append(cur.Alerts, e)
		count++
	}
	flush()

	if len(batches) == 0 {
		batches = append(batches, model.LogBatch{DeviceID: deviceID, DeviceInfo: info})
	}
	return batches
}
