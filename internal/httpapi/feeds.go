package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fenilsonani/feedmailer/internal/feed"
	"github.com/fenilsonani/feedmailer/internal/metrics"
	"github.com/fenilsonani/feedmailer/internal/model"
)

func (s *Server) itemLimit() int {
	if s.cfg.Feed.ItemLimit > 0 {
		return s.cfg.Feed.ItemLimit
	}
	return 50
}

func (s *Server) loadFeedAndItems(w http.ResponseWriter, r *http.Request) (*feedWithItems, bool) {
	id := r.PathValue("id")
	f, err := s.store.GetFeed(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return nil, false
	}
	items, err := s.store.ListItemsByFeed(r.Context(), id, s.itemLimit())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return &feedWithItems{feed: f, items: items}, true
}

type feedWithItems struct {
	feed  *model.Feed
	items []*model.FeedItem
}

func (s *Server) handleFeedRSS(w http.ResponseWriter, r *http.Request) {
	fi, ok := s.loadFeedAndItems(w, r)
	if !ok {
		return
	}
	body, err := feed.RenderRSS(fi.feed, fi.items, s.itemLimit())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.FeedRequests.WithLabelValues(fi.feed.ID, "rss").Inc()
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(s.cfg.FeedCacheDuration().Seconds())))
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write(body)
}

func (s *Server) handleFeedAtom(w http.ResponseWriter, r *http.Request) {
	fi, ok := s.loadFeedAndItems(w, r)
	if !ok {
		return
	}
	body, err := feed.RenderAtom(fi.feed, fi.items, s.itemLimit(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.FeedRequests.WithLabelValues(fi.feed.ID, "atom").Inc()
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(s.cfg.FeedCacheDuration().Seconds())))
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.Write(body)
}
