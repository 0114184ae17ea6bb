package ledger

import "github.com/maraichr/eomat/pkg/models"

var sourceTransitions = map[models.SourceState][]models.SourceState{
	models.SourceAvailableRemotely: {
		models.SourceScheduledForDownload,
		models.SourceIgnore,
	},
	models.SourceScheduledForDownload: {
		models.SourceDownloading,
		models.SourceDownloadFailed,
		models.SourceIgnore,
	},
	models.SourceDownloading: {
		models.SourceAvailableLocally,
		models.SourceDownloadFailed,
		models.SourceDeferred,
		models.SourceScheduledForDownload,
		models.SourceIgnore,
	},
	models.SourceDeferred: {
		models.SourceDownloading,
		models.SourceDownloadFailed,
		models.SourceIgnore,
	},
	models.SourceDownloadFailed: {
		models.SourceScheduledForDownload,
		models.SourceIgnore,
	},
	models.SourceAvailableLocally: {
		models.SourceScheduledForDownload,
		models.SourceAvailableLocally,
	},
}

var productTransitions = map[models.ProductState][]models.ProductState{
	models.ProductAvailable: {
		models.ProductScheduled,
		models.ProductMissingSource,
		models.ProductIgnore,
	},
	models.ProductMissingSource: {
		models.ProductAvailable,
		models.ProductIgnore,
	},
	models.ProductScheduled: {
		models.ProductGenerating,
		models.ProductFailed,
		models.ProductAvailable,
		models.ProductIgnore,
	},
	models.ProductGenerating: {
		models.ProductReady,
		models.ProductFailed,
		models.ProductIgnore,
	},
	models.ProductReady: {
		models.ProductAvailable,
		models.ProductIgnore,
	},
	models.ProductFailed: {
		models.ProductAvailable,
		models.ProductIgnore,
	},
}

// CanTransitionSource reports whether the source state machine has an edge
// from -> to. IGNORE has no outgoing edges.
func CanTransitionSource(from, to models.SourceState) bool {
	for _, s := range sourceTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionProduct reports whether the product state machine has an
// edge from -> to.
func CanTransitionProduct(from, to models.ProductState) bool {
	for _, s := range productTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
