package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/ubicatec/ubicatec-api/internal/config"
)

// ResponseCache caches successful public event reads in Redis.  Entries
// live under one prefix so a single Purge drops them all after any write
// that changes seat counts or event fields.
type ResponseCache struct {
    cfg config.CacheConfig
    rdb *redis.Client
    log *zap.Logger
}

// NewResponseCache returns a cache; with caching disabled or no Redis
// client its middleware is a pass-through and Purge a no-op.
func NewResponseCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) *ResponseCache {
    if cfg.TTL <= 0 {
        cfg.TTL = 30 * time.Second
    }
    return &ResponseCache{cfg: cfg, rdb: rdb, log: log}
}

func (rc *ResponseCache) enabled() bool { return rc != nil && rc.cfg.Enabled && rc.rdb != nil }

// captureWriter tees the response body, up to limit bytes, while
// forwarding it to the client.
type captureWriter struct {
    http.ResponseWriter
    status    int
    buf       bytes.Buffer
    truncated bool
    limit     int
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }

func (cw *captureWriter) Write(b []byte) (int, error) {
    if !cw.truncated {
        if cw.limit > 0 && cw.buf.Len()+len(b) > cw.limit {
            cw.truncated = true
        } else {
            cw.buf.Write(b)
        }
    }
    return cw.ResponseWriter.Write(b)
}

// genKey holds the cache generation.  Purge bumps it, and entries are keyed
// by the generation current when their request started, so a response
// computed before a write can only land under a generation nobody reads.
func (rc *ResponseCache) genKey() string { return rc.cfg.Prefix + ":gen" }

func (rc *ResponseCache) entryPattern() string { return rc.cfg.Prefix + ":e:*" }

// key hashes method, path and query.  The concrete URL path is used so
// /eventos/1 and /eventos/2 never share an entry.
func (rc *ResponseCache) key(r *http.Request, gen string) string {
    sum := sha1.Sum([]byte(r.Method + " " + r.URL.Path + "?" + r.URL.RawQuery))
    return fmt.Sprintf("%s:e:%s:%x", rc.cfg.Prefix, gen, sum[:])
}

func (rc *ResponseCache) generation(ctx context.Context) (string, error) {
    gen, err := rc.rdb.Get(ctx, rc.genKey()).Result()
    if errors.Is(err, redis.Nil) {
        return "0", nil
    }
    return gen, err
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, 8+len(hdrJSON)+len(body))
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:], hdrJSON)
    copy(out[8+len(hdrJSON):], body)
    return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    if len(bs) < 8 {
        return 0, nil, nil, false
    }
    status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || 8+hlen > len(bs) {
        return 0, nil, nil, false
    }
    header = make(http.Header)
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
            return 0, nil, nil, false
        }
    }
    return status, header, bs[8+hlen:], true
}

// Middleware serves cached 200 responses and stores fresh ones.  Redis
// errors degrade to an uncached request.
func (rc *ResponseCache) Middleware() echo.MiddlewareFunc {
    if !rc.enabled() {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            if !rc.cfg.Methods[strings.ToUpper(req.Method)] {
                return next(c)
            }
            gen, err := rc.generation(req.Context())
            if err != nil {
                rc.log.Warn("cache read failed", zap.Error(err))
                c.Response().Header().Set("X-Cache", "MISS")
                return next(c)
            }
            key := rc.key(req, gen)

            if bs, err := rc.rdb.Get(req.Context(), key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    for k, vals := range hdr {
                        if strings.EqualFold(k, "Content-Length") {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    c.Response().WriteHeader(status)
                    _, _ = c.Response().Write(body)
                    return nil
                }
            } else if !errors.Is(err, redis.Nil) {
                rc.log.Warn("cache read failed", zap.Error(err))
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: rc.cfg.MaxBodyBytes}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || cw.truncated {
                return nil
            }
            hdr := c.Response().Header().Clone()
            hdr.Del("X-Cache")
            payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
            if err != nil {
                return nil
            }
            // detached from the request so a client hang-up does not drop the write
            ctx, cancel := context.WithTimeout(context.Background(), time.Second)
            defer cancel()
            // a purge while the handler ran means the body may predate the write
            if now, err := rc.generation(ctx); err != nil || now != gen {
                return nil
            }
            if err := rc.rdb.Set(ctx, key, payload, rc.cfg.TTL).Err(); err != nil {
                rc.log.Warn("cache write failed", zap.Error(err))
            }
            return nil
        }
    }
}

// Purge starts a new generation and deletes every cached entry.  It is
// called after event and reservation writes.
func (rc *ResponseCache) Purge(ctx context.Context) error {
    if !rc.enabled() {
        return nil
    }
    if err := rc.rdb.Incr(ctx, rc.genKey()).Err(); err != nil {
        return err
    }
    iter := rc.rdb.Scan(ctx, 0, rc.entryPattern(), 200).Iterator()
    var keys []string
    for iter.Next(ctx) {
        keys = append(keys, iter.Val())
        if len(keys) == 200 {
            if err := rc.rdb.Del(ctx, keys...).Err(); err != nil {
                return err
            }
            keys = keys[:0]
        }
    }
    if err := iter.Err(); err != nil {
        return err
    }
    if len(keys) > 0 {
        return rc.rdb.Del(ctx, keys...).Err()
    }
    return nil
}
