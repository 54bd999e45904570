package gamev1

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// GameServiceName is the fully-qualified name of the GameService service.
const GameServiceName = "game.v1.GameService"

// Procedure paths, in the form /<service>/<method>.
const (
	GameServiceStartPressingProcedure       = "/game.v1.GameService/StartPressing"
	GameServiceStopPressingProcedure        = "/game.v1.GameService/StopPressing"
	GameServiceSendHeartbeatProcedure       = "/game.v1.GameService/SendHeartbeat"
	GameServiceStartGameProcedure           = "/game.v1.GameService/StartGame"
	GameServiceCleanupStalePlayersProcedure = "/game.v1.GameService/CleanupStalePlayers"
	GameServiceJoinGameProcedure            = "/game.v1.GameService/JoinGame"
	GameServiceGetGameProcedure             = "/game.v1.GameService/GetGame"
	GameServiceListPlayersProcedure         = "/game.v1.GameService/ListPlayers"
	GameServiceCreatePublicGameProcedure    = "/game.v1.GameService/CreatePublicGame"
	GameServiceCreatePrivateGameProcedure   = "/game.v1.GameService/CreatePrivateGame"
	GameServiceGetDailyGameProcedure        = "/game.v1.GameService/GetDailyGame"
	GameServiceListActiveGamesProcedure     = "/game.v1.GameService/ListActiveGames"
	GameServiceListFeaturedGamesProcedure   = "/game.v1.GameService/ListFeaturedGames"
	GameServiceGetGameByShareCodeProcedure  = "/game.v1.GameService/GetGameByShareCode"
	GameServiceGetUserHistoryProcedure      = "/game.v1.GameService/GetUserHistory"
	GameServiceGetLeaderboardProcedure      = "/game.v1.GameService/GetLeaderboard"
)

// JSONCodec encodes plain Go structs with encoding/json. It is registered
// under the "json" name so it replaces connect's protobuf JSON codec.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// GameServiceHandler is implemented by the server.
type GameServiceHandler interface {
	StartPressing(context.Context, *connect.Request[PlayerActionRequest]) (*connect.Response[SuccessResponse], error)
	StopPressing(context.Context, *connect.Request[PlayerActionRequest]) (*connect.Response[SuccessResponse], error)
	SendHeartbeat(context.Context, *connect.Request[PlayerActionRequest]) (*connect.Response[SuccessResponse], error)
	StartGame(context.Context, *connect.Request[SessionRequest]) (*connect.Response[SuccessResponse], error)
	CleanupStalePlayers(context.Context, *connect.Request[SessionRequest]) (*connect.Response[CleanupStalePlayersResponse], error)
	JoinGame(context.Context, *connect.Request[JoinGameRequest]) (*connect.Response[JoinGameResponse], error)
	GetGame(context.Context, *connect.Request[SessionRequest]) (*connect.Response[GameResponse], error)
	ListPlayers(context.Context, *connect.Request[SessionRequest]) (*connect.Response[ListPlayersResponse], error)
	CreatePublicGame(context.Context, *connect.Request[CreatePublicGameRequest]) (*connect.Response[GameResponse], error)
	CreatePrivateGame(context.Context, *connect.Request[CreatePrivateGameRequest]) (*connect.Response[GameResponse], error)
	GetDailyGame(context.Context, *connect.Request[GetDailyGameRequest]) (*connect.Response[GameResponse], error)
	ListActiveGames(context.Context, *connect.Request[ListActiveGamesRequest]) (*connect.Response[ListGamesResponse], error)
	ListFeaturedGames(context.Context, *connect.Request[ListFeaturedGamesRequest]) (*connect.Response[ListGamesResponse], error)
	GetGameByShareCode(context.Context, *connect.Request[GetGameByShareCodeRequest]) (*connect.Response[GameResponse], error)
	GetUserHistory(context.Context, *connect.Request[GetUserHistoryRequest]) (*connect.Response[GetUserHistoryResponse], error)
	GetLeaderboard(context.Context, *connect.Request[GetLeaderboardRequest]) (*connect.Response[GetLeaderboardResponse], error)
}

// NewGameServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewGameServiceHandler(svc GameServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	handlers := map[string]http.Handler{
		GameServiceStartPressingProcedure:       connect.NewUnaryHandler(GameServiceStartPressingProcedure, svc.StartPressing, opts...),
		GameServiceStopPressingProcedure:        connect.NewUnaryHandler(GameServiceStopPressingProcedure, svc.StopPressing, opts...),
		GameServiceSendHeartbeatProcedure:       connect.NewUnaryHandler(GameServiceSendHeartbeatProcedure, svc.SendHeartbeat, opts...),
		GameServiceStartGameProcedure:           connect.NewUnaryHandler(GameServiceStartGameProcedure, svc.StartGame, opts...),
		GameServiceCleanupStalePlayersProcedure: connect.NewUnaryHandler(GameServiceCleanupStalePlayersProcedure, svc.CleanupStalePlayers, opts...),
		GameServiceJoinGameProcedure:            connect.NewUnaryHandler(GameServiceJoinGameProcedure, svc.JoinGame, opts...),
		GameServiceGetGameProcedure:             connect.NewUnaryHandler(GameServiceGetGameProcedure, svc.GetGame, opts...),
		GameServiceListPlayersProcedure:         connect.NewUnaryHandler(GameServiceListPlayersProcedure, svc.ListPlayers, opts...),
		GameServiceCreatePublicGameProcedure:    connect.NewUnaryHandler(GameServiceCreatePublicGameProcedure, svc.CreatePublicGame, opts...),
		GameServiceCreatePrivateGameProcedure:   connect.NewUnaryHandler(GameServiceCreatePrivateGameProcedure, svc.CreatePrivateGame, opts...),
		GameServiceGetDailyGameProcedure:        connect.NewUnaryHandler(GameServiceGetDailyGameProcedure, svc.GetDailyGame, opts...),
		GameServiceListActiveGamesProcedure:     connect.NewUnaryHandler(GameServiceListActiveGamesProcedure, svc.ListActiveGames, opts...),
		GameServiceListFeaturedGamesProcedure:   connect.NewUnaryHandler(GameServiceListFeaturedGamesProcedure, svc.ListFeaturedGames, opts...),
		GameServiceGetGameByShareCodeProcedure:  connect.NewUnaryHandler(GameServiceGetGameByShareCodeProcedure, svc.GetGameByShareCode, opts...),
		GameServiceGetUserHistoryProcedure:      connect.NewUnaryHandler(GameServiceGetUserHistoryProcedure, svc.GetUserHistory, opts...),
		GameServiceGetLeaderboardProcedure:      connect.NewUnaryHandler(GameServiceGetLeaderboardProcedure, svc.GetLeaderboard, opts...),
	}

	return "/" + GameServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// GameServiceClient calls a GameService over HTTP.
type GameServiceClient struct {
	startPressing       *connect.Client[PlayerActionRequest, SuccessResponse]
	stopPressing        *connect.Client[PlayerActionRequest, SuccessResponse]
	sendHeartbeat       *connect.Client[PlayerActionRequest, SuccessResponse]
	startGame           *connect.Client[SessionRequest, SuccessResponse]
	cleanupStalePlayers *connect.Client[SessionRequest, CleanupStalePlayersResponse]
	joinGame            *connect.Client[JoinGameRequest, JoinGameResponse]
	getGame             *connect.Client[SessionRequest, GameResponse]
	listPlayers         *connect.Client[SessionRequest, ListPlayersResponse]
	createPublicGame    *connect.Client[CreatePublicGameRequest, GameResponse]
	createPrivateGame   *connect.Client[CreatePrivateGameRequest, GameResponse]
	getDailyGame        *connect.Client[GetDailyGameRequest, GameResponse]
	listActiveGames     *connect.Client[ListActiveGamesRequest, ListGamesResponse]
	listFeaturedGames   *connect.Client[ListFeaturedGamesRequest, ListGamesResponse]
	getGameByShareCode  *connect.Client[GetGameByShareCodeRequest, GameResponse]
	getUserHistory      *connect.Client[GetUserHistoryRequest, GetUserHistoryResponse]
	getLeaderboard      *connect.Client[GetLeaderboardRequest, GetLeaderboardResponse]
}

// NewGameServiceClient constructs a client for the service at baseURL
// (for example, http://localhost:8080).
func NewGameServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *GameServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &GameServiceClient{
		startPressing:       connect.NewClient[PlayerActionRequest, SuccessResponse](httpClient, baseURL+GameServiceStartPressingProcedure, opts...),
		stopPressing:        connect.NewClient[PlayerActionRequest, SuccessResponse](httpClient, baseURL+GameServiceStopPressingProcedure, opts...),
		sendHeartbeat:       connect.NewClient[PlayerActionRequest, SuccessResponse](httpClient, baseURL+GameServiceSendHeartbeatProcedure, opts...),
		startGame:           connect.NewClient[SessionRequest, SuccessResponse](httpClient, baseURL+GameServiceStartGameProcedure, opts...),
		cleanupStalePlayers: connect.NewClient[SessionRequest, CleanupStalePlayersResponse](httpClient, baseURL+GameServiceCleanupStalePlayersProcedure, opts...),
		joinGame:            connect.NewClient[JoinGameRequest, JoinGameResponse](httpClient, baseURL+GameServiceJoinGameProcedure, opts...),
		getGame:             connect.NewClient[SessionRequest, GameResponse](httpClient, baseURL+GameServiceGetGameProcedure, opts...),
		listPlayers:         connect.NewClient[SessionRequest, ListPlayersResponse](httpClient, baseURL+GameServiceListPlayersProcedure, opts...),
		createPublicGame:    connect.NewClient[CreatePublicGameRequest, GameResponse](httpClient, baseURL+GameServiceCreatePublicGameProcedure, opts...),
		createPrivateGame:   connect.NewClient[CreatePrivateGameRequest, GameResponse](httpClient, baseURL+GameServiceCreatePrivateGameProcedure, opts...),
		getDailyGame:        connect.NewClient[GetDailyGameRequest, GameResponse](httpClient, baseURL+GameServiceGetDailyGameProcedure, opts...),
		listActiveGames:     connect.NewClient[ListActiveGamesRequest, ListGamesResponse](httpClient, baseURL+GameServiceListActiveGamesProcedure, opts...),
		listFeaturedGames:   connect.NewClient[ListFeaturedGamesRequest, ListGamesResponse](httpClient, baseURL+GameServiceListFeaturedGamesProcedure, opts...),
		getGameByShareCode:  connect.NewClient[GetGameByShareCodeRequest, GameResponse](httpClient, baseURL+GameServiceGetGameByShareCodeProcedure, opts...),
		getUserHistory:      connect.NewClient[GetUserHistoryRequest, GetUserHistoryResponse](httpClient, baseURL+GameServiceGetUserHistoryProcedure, opts...),
		getLeaderboard:      connect.NewClient[GetLeaderboardRequest, GetLeaderboardResponse](httpClient, baseURL+GameServiceGetLeaderboardProcedure, opts...),
	}
}

func (c *GameServiceClient) StartPressing(ctx context.Context, req *connect.Request[PlayerActionRequest]) (*connect.Response[SuccessResponse], error) {
	return c.startPressing.CallUnary(ctx, req)
}

func (c *GameServiceClient) StopPressing(ctx context.Context, req *connect.Request[PlayerActionRequest]) (*connect.Response[SuccessResponse], error) {
	return c.stopPressing.CallUnary(ctx, req)
}

func (c *GameServiceClient) SendHeartbeat(ctx context.Context, req *connect.Request[PlayerActionRequest]) (*connect.Response[SuccessResponse], error) {
	return c.sendHeartbeat.CallUnary(ctx, req)
}

func (c *GameServiceClient) StartGame(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SuccessResponse], error) {
	return c.startGame.CallUnary(ctx, req)
}

func (c *GameServiceClient) CleanupStalePlayers(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[CleanupStalePlayersResponse], error) {
	return c.cleanupStalePlayers.CallUnary(ctx, req)
}

func (c *GameServiceClient) JoinGame(ctx context.Context, req *connect.Request[JoinGameRequest]) (*connect.Response[JoinGameResponse], error) {
	return c.joinGame.CallUnary(ctx, req)
}

func (c *GameServiceClient) GetGame(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[GameResponse], error) {
	return c.getGame.CallUnary(ctx, req)
}

func (c *GameServiceClient) ListPlayers(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[ListPlayersResponse], error) {
	return c.listPlayers.CallUnary(ctx, req)
}

func (c *GameServiceClient) CreatePublicGame(ctx context.Context, req *connect.Request[CreatePublicGameRequest]) (*connect.Response[GameResponse], error) {
	return c.createPublicGame.CallUnary(ctx, req)
}

func (c *GameServiceClient) CreatePrivateGame(ctx context.Context, req *connect.Request[CreatePrivateGameRequest]) (*connect.Response[GameResponse], error) {
	return c.createPrivateGame.CallUnary(ctx, req)
}

func (c *GameServiceClient) GetDailyGame(ctx context.Context, req *connect.Request[GetDailyGameRequest]) (*connect.Response[GameResponse], error) {
	return c.getDailyGame.CallUnary(ctx, req)
}

func (c *GameServiceClient) ListActiveGames(ctx context.Context, req *connect.Request[ListActiveGamesRequest]) (*connect.Response[ListGamesResponse], error) {
	return c.listActiveGames.CallUnary(ctx, req)
}

func (c *GameServiceClient) ListFeaturedGames(ctx context.Context, req *connect.Request[ListFeaturedGamesRequest]) (*connect.Response[ListGamesResponse], error) {
	return c.listFeaturedGames.CallUnary(ctx, req)
}

func (c *GameServiceClient) GetGameByShareCode(ctx context.Context, req *connect.Request[GetGameByShareCodeRequest]) (*connect.Response[GameResponse], error) {
	return c.getGameByShareCode.CallUnary(ctx, req)
}

func (c *GameServiceClient) GetUserHistory(ctx context.Context, req *connect.Request[GetUserHistoryRequest]) (*connect.Response[GetUserHistoryResponse], error) {
	return c.getUserHistory.CallUnary(ctx, req)
}

func (c *GameServiceClient) GetLeaderboard(ctx context.Context, req *connect.Request[GetLeaderboardRequest]) (*connect.Response[GetLeaderboardResponse], error) {
	return c.getLeaderboard.CallUnary(ctx, req)
}
