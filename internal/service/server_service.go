package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"viplinks/internal/infrastructure/rcon"
	"viplinks/internal/model"
	"viplinks/internal/repository"
	"viplinks/pkg/idgen"

	"gorm.io/gorm"
)

// SecretSealer 加解密 RCON 密码
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// PlayerFinder 通过 RCON status 查询玩家是否在线
type PlayerFinder interface {
	FindPlayer(ctx context.Context, server rcon.ServerConnection, identifier string) (bool, string, error)
}

type ServerService struct {
	serverRepo *repository.ServerRepository
	sealer     SecretSealer
	finder     PlayerFinder
}

func NewServerService(db *gorm.DB, sealer SecretSealer, finder PlayerFinder) *ServerService {
	return &ServerService{
		serverRepo: repository.NewServerRepository(db),
		sealer:     sealer,
		finder:     finder,
	}
}

type RegisterServerRequest struct {
	Name         string `json:"server_name" binding:"required"`
	Host         string `json:"server_ip" binding:"required"`
	RconPort     int    `json:"rcon_port" binding:"required,gt=0,lt=65536"`
	RconPassword string `json:"rcon_password" binding:"required"`
	GameType     string `json:"game_type"`
}

// Register 登记游戏服务器，RCON 密码加密保存，返回的结构不包含密码
func (s *ServerService) Register(ctx context.Context, sellerID string, req *RegisterServerRequest) (*model.GameServer, error) {
	key, err := idgen.GenerateServerKey()
	if err != nil {
		return nil, err
	}

	sealed, err := s.sealer.Seal(req.RconPassword)
	if err != nil {
		return nil, fmt.Errorf("加密 RCON 密码失败: %w", err)
	}

	gameType := req.GameType
	if gameType == "" {
		gameType = "rust"
	}

	server := &model.GameServer{
		SellerID:   sellerID,
		Name:       req.Name,
		Host:       strings.TrimSpace(req.Host),
		RconPort:   req.RconPort,
		RconSecret: sealed,
		ServerKey:  key,
		GameType:   gameType,
	}
	if err := s.serverRepo.Create(ctx, server); err != nil {
		return nil, fmt.Errorf("保存游戏服务器失败: %w", err)
	}

	log.Printf("[ServerService] 游戏服务器已登记: id=%d, seller=%s, addr=%s:%d", server.ID, sellerID, server.Host, server.RconPort)
	return server, nil
}

type ValidatePlayerResult struct {
	Found      bool   `json:"found"`
	PlayerName string `json:"player_name,omitempty"`
}

// ValidatePlayer 检查玩家当前是否在服务器上
func (s *ServerService) ValidatePlayer(ctx context.Context, sellerID string, serverID int64, identifier string) (*ValidatePlayerResult, error) {
	server, err := s.serverRepo.GetBySellerAndID(ctx, sellerID, serverID)
	if err != nil {
		return nil, err
	}

	secret, err := s.sealer.Open(server.RconSecret)
	if err != nil {
		return nil, fmt.Errorf("解密 RCON 密码失败: %w", err)
	}

	conn := rcon.ServerConnection{Host: server.Host, Port: server.RconPort, Secret: secret}
	found, name, err := s.finder.FindPlayer(ctx, conn, identifier)
	if err != nil {
		return nil, err
	}
	return &ValidatePlayerResult{Found: found, PlayerName: name}, nil
}
